package bridge

import (
	"github.com/cockroachdb/errors"

	"github.com/thanhnp/chain-bridge/internal/models"
)

// State returns a snapshot of the chain registry and every transfer
func (r *Router) State() *models.RouterState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state()
}

// state builds the snapshot - must be called with lock held
func (r *Router) state() *models.RouterState {
	st := &models.RouterState{
		Nonce:     r.nonce,
		Chains:    make([]models.ChainRegistration, 0, len(r.chains)),
		Transfers: make([]models.Transfer, 0, len(r.order)),
	}
	for chain, reg := range r.chains {
		st.Chains = append(st.Chains, *r.chainModel(chain, reg))
	}
	for _, h := range r.order {
		st.Transfers = append(st.Transfers, *r.transfers[h].model())
	}
	return st
}

// Restore replaces the router's contents with a snapshot. Every registered
// chain in the snapshot needs a ledger handle.
func (r *Router) Restore(st *models.RouterState, ledgers map[models.ChainID]Ledger) error {
	chains := make(map[models.ChainID]*registration, len(st.Chains))
	for _, c := range st.Chains {
		l, ok := ledgers[c.Chain]
		if !ok {
			return errors.Wrapf(ErrChainNotRegistered, "no ledger for restored chain %s", c.Chain)
		}
		chains[c.Chain] = &registration{
			ledger:       l,
			name:         c.Name,
			required:     c.RequiredConfirmations,
			active:       c.Active,
			registeredAt: c.RegisteredAt,
		}
	}

	transfers := make(map[models.Hash]*transfer, len(st.Transfers))
	order := make([]models.Hash, 0, len(st.Transfers))
	for _, mt := range st.Transfers {
		t, err := transferFromModel(mt)
		if err != nil {
			return err
		}
		if _, ok := chains[t.source]; !ok {
			return errors.Wrapf(ErrChainNotRegistered, "transfer %s source chain %s", t.hash, t.source)
		}
		if _, ok := chains[t.dest]; !ok {
			return errors.Wrapf(ErrChainNotRegistered, "transfer %s destination chain %s", t.hash, t.dest)
		}
		transfers[t.hash] = t
		order = append(order, t.hash)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.chains = chains
	r.transfers = transfers
	r.order = order
	r.nonce = st.Nonce
	return nil
}

func transferFromModel(mt models.Transfer) (*transfer, error) {
	hash, err := models.ParseHash(mt.Hash)
	if err != nil {
		return nil, err
	}
	sender, err := models.ParsePrincipal(mt.Sender)
	if err != nil {
		return nil, err
	}
	recipient, err := models.ParsePrincipal(mt.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := models.ParseAmount(mt.Amount)
	if err != nil {
		return nil, err
	}
	t := &transfer{
		hash:      hash,
		source:    mt.SourceChain,
		dest:      mt.DestChain,
		sender:    sender,
		recipient: recipient,
		amount:    amount,
		nonce:     mt.Nonce,
		status:    mt.Status,
		required:  mt.RequiredConfirmations,
		createdAt: mt.CreatedAt,
	}
	for _, c := range mt.Confirmations {
		v, err := models.ParsePrincipal(c)
		if err != nil {
			return nil, err
		}
		t.confirmations = append(t.confirmations, v)
	}
	if mt.FinalizedAt != nil {
		at := *mt.FinalizedAt
		t.finalizedAt = &at
	}
	return t, nil
}

// Snapshot builds the router state and calls fn with it while no transfer
// can change. fn may read ledgers and the registry but must not call the
// router.
func (r *Router) Snapshot(fn func(st *models.RouterState)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(r.state())
}
