package pqcrypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchemeSignVerify(t *testing.T) {
	for _, name := range SchemeNames() {
		t.Run(name, func(t *testing.T) {
			s, err := ByName(name)
			require.NoError(t, err)
			require.Equal(t, name, s.Algorithm())

			kp, err := s.GenerateKey()
			require.NoError(t, err)
			require.NoError(t, s.ValidatePublicKey(kp.PublicKey))

			msg := []byte("qrpay:transfer:v1|a|b|300|1|rent")
			sig, err := s.Sign(kp.PrivateKey, msg)
			require.NoError(t, err)

			ok, err := s.Verify(kp.PublicKey, msg, sig)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = s.Verify(kp.PublicKey, []byte("qrpay:transfer:v1|a|b|301|1|rent"), sig)
			require.NoError(t, err)
			require.False(t, ok, "signature must not verify for a different message")
		})
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	s := NewMLDSA65()
	kp, err := s.GenerateKey()
	require.NoError(t, err)
	msg := []byte("hello")
	sig, err := s.Sign(kp.PrivateKey, msg)
	require.NoError(t, err)

	tampered := bytes.Clone(sig)
	tampered[10] ^= 0xff

	cases := map[string]struct {
		pub []byte
		sig []byte
	}{
		"tampered signature":  {kp.PublicKey, tampered},
		"truncated signature": {kp.PublicKey, sig[:len(sig)-1]},
		"empty signature":     {kp.PublicKey, nil},
		"garbage public key":  {[]byte("not-a-key"), sig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Verify(tc.pub, msg, tc.sig)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestVerifyEmptyPublicKey(t *testing.T) {
	_, err := NewMLDSA65().Verify(nil, []byte("m"), []byte("s"))
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestVerifyWrongSchemeKey(t *testing.T) {
	small, err := ByName("ML-DSA-44")
	require.NoError(t, err)
	kp, err := small.GenerateKey()
	require.NoError(t, err)
	sig, err := small.Sign(kp.PrivateKey, []byte("m"))
	require.NoError(t, err)

	ok, err := NewMLDSA65().Verify(kp.PublicKey, []byte("m"), sig)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, NewMLDSA65().ValidatePublicKey(kp.PublicKey), ErrInvalidPublicKey)
}

func TestByNameUnknown(t *testing.T) {
	_, err := ByName("RSA-2048")
	require.True(t, errors.Is(err, ErrUnknownScheme))

	s, err := ByName("")
	require.NoError(t, err)
	require.Equal(t, DefaultScheme, s.Algorithm())
}

func TestDeriveAddressDeterministic(t *testing.T) {
	pub := bytes.Repeat([]byte{0x42}, 64)

	first, err := DeriveAddress(pub)
	require.NoError(t, err)
	second, err := NewMLDSA65().DeriveAddress(bytes.Clone(pub))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, first, AddressLength)
	require.NoError(t, ValidateAddress(first))
	require.Equal(t, "qrpay_", first[:len(AddressPrefix)])

	other, err := DeriveAddress(append(bytes.Clone(pub), 0x00))
	require.NoError(t, err)
	require.NotEqual(t, first, other)

	_, err = DeriveAddress(nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeriveAddressKnownValues(t *testing.T) {
	// Addresses are persisted, so the derivation must never change.
	cases := []struct {
		publicKey []byte
		want      string
	}{
		{[]byte("abc"), "qrpay_3a985da74fe225b2045c172d6bd390bd855f086e"},
		{bytes.Repeat([]byte{0x42}, 64), "qrpay_9d39dd5278bd2105f13525526f222b8730591dcd"},
	}
	for _, tc := range cases {
		got, err := DeriveAddress(tc.publicKey)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestValidateAddress(t *testing.T) {
	valid, err := DeriveAddress([]byte("pk"))
	require.NoError(t, err)

	cases := map[string]bool{
		valid:                          true,
		"qrpay_abc":                    false,
		"btc_" + valid[len("qrpay_"):]: false,
		valid[:len(valid)-1] + "z":     false,
		"qrpay_" + "ABCDEF0123456789ABCDEF0123456789ABCDEF01": false,
	}
	for addr, ok := range cases {
		err := ValidateAddress(addr)
		if ok {
			require.NoError(t, err, addr)
		} else {
			require.ErrorIs(t, err, ErrInvalidAddress, addr)
		}
	}
}

func TestMLKEMRoundTrip(t *testing.T) {
	k := NewMLKEM768()
	kp, err := k.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, k.ValidatePublicKey(kp.PublicKey))

	enc, err := k.Encapsulate(kp.PublicKey)
	require.NoError(t, err)

	ss, err := k.Decapsulate(kp.PrivateKey, enc.Ciphertext)
	require.NoError(t, err)
	require.Equal(t, enc.SharedSecret, ss)
	require.Equal(t, enc.Confirmation(), ConfirmationTag(ss))

	_, err = k.Encapsulate([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidPublicKey)
	require.ErrorIs(t, k.ValidatePublicKey(nil), ErrInvalidArgument)
}
