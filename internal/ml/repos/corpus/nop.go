package corpus

// NopStore stores nothing. It is used when no corpus database is configured,
// so every load fetches.
type NopStore struct{}

func (NopStore) PutPool(PoolInfo, []string) error { return nil }
func (NopStore) Domains(Pool) ([]string, error) { return nil, nil }
func (NopStore) Info(Pool) (PoolInfo, bool, error) { return PoolInfo{}, false, nil }
func (NopStore) Purge() error { return nil }
func (NopStore) Close() error { return nil }

var _ Store = NopStore{}
