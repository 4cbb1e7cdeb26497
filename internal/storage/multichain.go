package storage

// NetworkStores holds all stores of one network on a shared database
type NetworkStores struct {
	DB         KV
	Ledgers    *LedgerStore
	Blocks     *BlockStore
	Validators *ValidatorStore
	Bridge     *BridgeStore
	Meta       *MetaStore
}

// NewNetworkStores creates all stores using the given database
func NewNetworkStores(db KV) *NetworkStores {
	return &NetworkStores{
		DB:         db,
		Ledgers:    NewLedgerStore(db),
		Blocks:     NewBlockStore(db),
		Validators: NewValidatorStore(db),
		Bridge:     NewBridgeStore(db),
		Meta:       NewMetaStore(db),
	}
}

// Close closes the database
func (ns *NetworkStores) Close() error {
	return ns.DB.Close()
}
