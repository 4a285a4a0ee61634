package ledger

// SeedBalance is a test helper that sets the balance of a wallet held by the
// in-memory ledger. It has no effect on other backends.
func SeedBalance(l Store, address string, amount int64) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return
	}
	acc, err := mem.lookup(address)
	if err != nil {
		return
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.wallet.Balance = amount
}

// TotalBalance sums every wallet balance of an in-memory ledger.
func TotalBalance(l Store) int64 {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return 0
	}
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var total int64
	for _, acc := range mem.accounts {
		acc.mu.Lock()
		total += acc.wallet.Balance
		acc.mu.Unlock()
	}
	return total
}
