package ledger

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// State returns a snapshot of everything but the blocks
func (l *Ledger) State() *models.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := &models.LedgerState{
		Chain:       l.chainID,
		Name:        l.name,
		Symbol:      l.symbol,
		TotalSupply: l.totalSupply.Dec(),
		BridgedOut:  l.bridgedOut.Dec(),
		BridgedIn:   l.bridgedIn.Dec(),
		Nonce:       l.nonce,
		Height:      l.blocks[len(l.blocks)-1].Number,
		Accounts:    make([]models.Account, 0, len(l.balances)),
		Allowances:  []models.Allowance{},
		Pending:     make([]models.PendingTransaction, 0, len(l.pending)),
	}

	for addr, bal := range l.balances {
		st.Accounts = append(st.Accounts, models.Account{Address: addr.Hex(), Balance: bal.Dec(), Chain: l.chainID})
	}
	sort.Slice(st.Accounts, func(i, j int) bool { return st.Accounts[i].Address < st.Accounts[j].Address })

	for owner, spenders := range l.allowances {
		for spender, amt := range spenders {
			st.Allowances = append(st.Allowances, models.Allowance{Owner: owner.Hex(), Spender: spender.Hex(), Amount: amt.Dec()})
		}
	}
	sort.Slice(st.Allowances, func(i, j int) bool {
		if st.Allowances[i].Owner != st.Allowances[j].Owner {
			return st.Allowances[i].Owner < st.Allowances[j].Owner
		}
		return st.Allowances[i].Spender < st.Allowances[j].Spender
	})

	for _, tx := range l.pending {
		st.Pending = append(st.Pending, tx.model())
	}

	for origin, set := range l.crossChainValidators {
		for v := range set {
			st.CrossChainValidators = append(st.CrossChainValidators, models.CrossChainValidator{Origin: origin, Validator: v.Hex()})
		}
	}
	sort.Slice(st.CrossChainValidators, func(i, j int) bool {
		a, b := st.CrossChainValidators[i], st.CrossChainValidators[j]
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.Validator < b.Validator
	})

	return st
}

// Restore replaces the ledger's contents with a snapshot and its blocks.
// Blocks must be contiguous from genesis up to the snapshot height.
func (l *Ledger) Restore(st *models.LedgerState, blocks []*models.Block) error {
	if st.Chain != l.chainID {
		return errors.Newf("snapshot for chain %s restored into chain %s", st.Chain, l.chainID)
	}
	if uint64(len(blocks)) != st.Height+1 {
		return errors.Newf("chain %s: snapshot height %d but %d blocks", l.chainID, st.Height, len(blocks))
	}

	chain := make([]*Block, len(blocks))
	for i, m := range blocks {
		if m.Number != uint64(i) {
			return errors.Newf("chain %s: block %d found at position %d", l.chainID, m.Number, i)
		}
		b, err := blockFromModel(m)
		if err != nil {
			return errors.Wrapf(err, "chain %s block %d", l.chainID, m.Number)
		}
		chain[i] = b
	}

	supply, err := models.ParseAmount(st.TotalSupply)
	if err != nil {
		return err
	}
	out, err := models.ParseAmount(st.BridgedOut)
	if err != nil {
		return err
	}
	in, err := models.ParseAmount(st.BridgedIn)
	if err != nil {
		return err
	}

	balances := make(map[models.Principal]*uint256.Int, len(st.Accounts))
	for _, acc := range st.Accounts {
		addr, err := models.ParsePrincipal(acc.Address)
		if err != nil {
			return err
		}
		bal, err := models.ParseAmount(acc.Balance)
		if err != nil {
			return err
		}
		if !bal.IsZero() {
			balances[addr] = bal
		}
	}

	allowances := make(map[models.Principal]map[models.Principal]*uint256.Int)
	for _, a := range st.Allowances {
		owner, err := models.ParsePrincipal(a.Owner)
		if err != nil {
			return err
		}
		spender, err := models.ParsePrincipal(a.Spender)
		if err != nil {
			return err
		}
		amt, err := models.ParseAmount(a.Amount)
		if err != nil {
			return err
		}
		if allowances[owner] == nil {
			allowances[owner] = make(map[models.Principal]*uint256.Int)
		}
		allowances[owner][spender] = amt
	}

	pending := make([]*pendingTx, 0, len(st.Pending))
	for _, p := range st.Pending {
		hash, err := models.ParseHash(p.Hash)
		if err != nil {
			return err
		}
		from, err := models.ParsePrincipal(p.From)
		if err != nil {
			return err
		}
		to, err := models.ParsePrincipal(p.To)
		if err != nil {
			return err
		}
		amt, err := models.ParseAmount(p.Amount)
		if err != nil {
			return err
		}
		pending = append(pending, &pendingTx{hash: hash, from: from, to: to, amount: amt, nonce: p.Nonce, createdAt: p.CreatedAt})
	}

	ccv := make(map[models.ChainID]map[models.Principal]struct{})
	for _, c := range st.CrossChainValidators {
		v, err := models.ParsePrincipal(c.Validator)
		if err != nil {
			return err
		}
		if ccv[c.Origin] == nil {
			ccv[c.Origin] = make(map[models.Principal]struct{})
		}
		ccv[c.Origin][v] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.name = st.Name
	l.symbol = st.Symbol
	l.totalSupply = supply
	l.bridgedOut = out
	l.bridgedIn = in
	l.nonce = st.Nonce
	l.balances = balances
	l.allowances = allowances
	l.pending = pending
	l.crossChainValidators = ccv
	l.blocks = chain
	l.byHash = make(map[models.Hash]uint64, len(chain))
	for _, b := range chain {
		l.byHash[b.Hash] = b.Number
	}
	return nil
}
