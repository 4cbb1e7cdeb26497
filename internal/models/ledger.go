package models

// Account is a balance held on one chain
type Account struct {
	Address string  `json:"address"`
	Balance string  `json:"balance"`
	Chain   ChainID `json:"chain"`
}

// Allowance is an owner's approval for a spender
type Allowance struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// CrossChainValidator grants a validator the right to confirm transfers
// arriving from Origin
type CrossChainValidator struct {
	Origin    ChainID `json:"origin"`
	Validator string  `json:"validator"`
}

// LedgerInfo is the read projection of a ledger's headline figures
type LedgerInfo struct {
	Chain        ChainID `json:"chain"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Decimals     int32   `json:"decimals"`
	TotalSupply  string  `json:"total_supply"`
	BridgedOut   string  `json:"bridged_out"`
	BridgedIn    string  `json:"bridged_in"`
	CurrentBlock uint64  `json:"current_block"`
	PendingCount int     `json:"pending_count"`
	Accounts     int     `json:"accounts"`
}

// LedgerState is everything needed to rebuild a ledger except its blocks,
// which are stored individually
type LedgerState struct {
	Chain                ChainID               `json:"chain"`
	Name                 string                `json:"name"`
	Symbol               string                `json:"symbol"`
	TotalSupply          string                `json:"total_supply"`
	BridgedOut           string                `json:"bridged_out"`
	BridgedIn            string                `json:"bridged_in"`
	Nonce                uint64                `json:"nonce"`
	Height               uint64                `json:"height"`
	Accounts             []Account             `json:"accounts"`
	Allowances           []Allowance           `json:"allowances"`
	Pending              []PendingTransaction  `json:"pending"`
	CrossChainValidators []CrossChainValidator `json:"cross_chain_validators"`
}
