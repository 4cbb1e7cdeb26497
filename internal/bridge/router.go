// Package bridge routes cross-chain transfers between registered ledgers and
// executes them once enough validators have confirmed.
package bridge

import (
	"bytes"
	"encoding/binary"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/notifier"
)

var (
	ErrChainAlreadyRegistered  = errors.New("chain already registered")
	ErrChainNotRegistered      = errors.New("chain not registered or inactive")
	ErrInvalidThreshold        = errors.New("invalid confirmation threshold")
	ErrTransferNotFound        = errors.New("transfer not found")
	ErrTransferAlreadyExecuted = errors.New("transfer already executed")
	ErrTransferCancelled       = errors.New("transfer cancelled")
	ErrDuplicateConfirmation   = errors.New("validator already confirmed this transfer")
	ErrUnauthorized            = errors.New("caller is not the bridge operator")
	ErrSameChain               = errors.New("source and destination chain are the same")
)

// Ledger is the part of a chain ledger the router moves funds through
type Ledger interface {
	ChainID() models.ChainID
	Name() string
	Lock(from models.Principal, amount *uint256.Int) error
	Unlock(from models.Principal, amount *uint256.Int) error
	Release(to models.Principal, amount *uint256.Int) error
	IsCrossChainValidator(origin models.ChainID, v models.Principal) bool
	CrossChainValidators(origin models.ChainID) []models.Principal
}

// Registry is the part of the validator registry the router needs
type Registry interface {
	HasMinimumStake(v models.Principal) bool
	BeginConfirmation(v models.Principal, chain models.ChainID)
	ReleaseConfirmation(v models.Principal, chain models.ChainID)
	RecordConfirmation(v models.Principal, chain models.ChainID)
}

type registration struct {
	ledger       Ledger
	name         string
	required     uint32
	active       bool
	registeredAt time.Time
}

type transfer struct {
	hash          models.Hash
	source        models.ChainID
	dest          models.ChainID
	sender        models.Principal
	recipient     models.Principal
	amount        *uint256.Int
	nonce         uint64
	status        models.TransferStatus
	confirmations []models.Principal
	required      uint32
	createdAt     time.Time
	finalizedAt   *time.Time
}

func (t *transfer) confirmedBy(v models.Principal) bool {
	for _, c := range t.confirmations {
		if c == v {
			return true
		}
	}
	return false
}

func (t *transfer) model() *models.Transfer {
	out := &models.Transfer{
		Hash:                  t.hash.String(),
		SourceChain:           t.source,
		DestChain:             t.dest,
		Sender:                t.sender.Hex(),
		Recipient:             t.recipient.Hex(),
		Amount:                t.amount.Dec(),
		Nonce:                 t.nonce,
		Status:                t.status,
		Confirmations:         make([]string, len(t.confirmations)),
		RequiredConfirmations: t.required,
		CreatedAt:             t.createdAt,
	}
	for i, c := range t.confirmations {
		out.Confirmations[i] = c.Hex()
	}
	if t.finalizedAt != nil {
		at := *t.finalizedAt
		out.FinalizedAt = &at
	}
	return out
}

// TransferHash is the deterministic identity of a cross-chain transfer
func TransferHash(source, dest models.ChainID, sender, recipient models.Principal, amount *uint256.Int, nonce uint64) models.Hash {
	var buf bytes.Buffer
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(source))
	buf.Write(n[:])
	binary.BigEndian.PutUint64(n[:], uint64(dest))
	buf.Write(n[:])
	buf.Write(sender[:])
	buf.Write(recipient[:])
	amt := amount.Bytes32()
	buf.Write(amt[:])
	binary.BigEndian.PutUint64(n[:], nonce)
	buf.Write(n[:])
	return chainhash.DoubleHashH(buf.Bytes())
}

// Router holds the chain registry and every cross-chain transfer. Its lock
// is taken before any ledger or registry lock.
type Router struct {
	mu sync.Mutex

	chains    map[models.ChainID]*registration
	transfers map[models.Hash]*transfer
	order     []models.Hash
	nonce     uint64

	registry Registry
	operator models.Principal
	notifier *notifier.Hub
	now      func() time.Time
}

// NewRouter creates a router. Only operator may cancel pending transfers;
// the zero address disables cancellation.
func NewRouter(registry Registry, operator models.Principal) *Router {
	return &Router{
		chains:    make(map[models.ChainID]*registration),
		transfers: make(map[models.Hash]*transfer),
		registry:  registry,
		operator:  operator,
		now:       time.Now,
	}
}

// SetNotifier sets the hub that receives transfer and change events
func (r *Router) SetNotifier(hub *notifier.Hub) {
	r.notifier = hub
}

func (r *Router) changed() {
	r.notifier.Changed("bridge")
}

// Operator returns the principal allowed to cancel transfers
func (r *Router) Operator() models.Principal {
	return r.operator
}

// RegisterChain adds a chain with the number of confirmations a transfer
// into it needs
func (r *Router) RegisterChain(chain models.ChainID, ledger Ledger, name string, required uint32) error {
	if required == 0 {
		return errors.Wrapf(ErrInvalidThreshold, "chain %s requires 0 confirmations", chain)
	}

	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[chain]; ok {
		return errors.Wrapf(ErrChainAlreadyRegistered, "chain %s", chain)
	}
	r.chains[chain] = &registration{
		ledger:       ledger,
		name:         name,
		required:     required,
		active:       true,
		registeredAt: r.now().UTC(),
	}
	log.Printf("[bridge] Registered chain %s (%s), %d confirmations required", chain, name, required)
	return nil
}

// SetChainActive enables or disables new transfers from and to chain
func (r *Router) SetChainActive(chain models.ChainID, active bool) error {
	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.chains[chain]
	if !ok {
		return errors.Wrapf(ErrChainNotRegistered, "chain %s", chain)
	}
	reg.active = active
	return nil
}

// active returns the registration of an active chain - must be called with lock held
func (r *Router) active(chain models.ChainID) (*registration, error) {
	reg, ok := r.chains[chain]
	if !ok || !reg.active {
		return nil, errors.Wrapf(ErrChainNotRegistered, "chain %s", chain)
	}
	return reg, nil
}

// InitiateTransfer locks amount on the source ledger and opens a pending
// transfer to recipient on the destination chain
func (r *Router) InitiateTransfer(sender models.Principal, source, dest models.ChainID, recipient models.Principal, amount *uint256.Int) (*models.Transfer, error) {
	if amount == nil || amount.IsZero() {
		return nil, models.ErrInvalidAmount
	}

	t, err := r.initiate(sender, source, dest, recipient, amount)
	if err != nil {
		return nil, err
	}
	log.Printf("[bridge] Transfer %s initiated: %s from chain %s to chain %s", t.Hash, t.Amount, source, dest)
	r.notifier.TransferUpdated(t)
	return t, nil
}

func (r *Router) initiate(sender models.Principal, source, dest models.ChainID, recipient models.Principal, amount *uint256.Int) (*models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if source == dest {
		return nil, errors.Wrapf(ErrSameChain, "chain %s", source)
	}
	src, err := r.active(source)
	if err != nil {
		return nil, err
	}
	dst, err := r.active(dest)
	if err != nil {
		return nil, err
	}

	if err := src.ledger.Lock(sender, amount); err != nil {
		return nil, err
	}

	t := &transfer{
		source:    source,
		dest:      dest,
		sender:    sender,
		recipient: recipient,
		amount:    new(uint256.Int).Set(amount),
		nonce:     r.nonce,
		status:    models.TransferPending,
		required:  dst.required,
		createdAt: r.now().UTC(),
	}
	t.hash = TransferHash(source, dest, sender, recipient, amount, t.nonce)
	if _, exists := r.transfers[t.hash]; exists {
		if uerr := src.ledger.Unlock(sender, amount); uerr != nil {
			return nil, errors.CombineErrors(errors.Newf("transfer %s already recorded", t.hash), uerr)
		}
		return nil, errors.Newf("transfer %s already recorded", t.hash)
	}

	r.nonce++
	r.transfers[t.hash] = t
	r.order = append(r.order, t.hash)
	return t.model(), nil
}

// ConfirmTransfer records v's confirmation. The confirmation that reaches
// the destination's threshold releases the funds and executes the transfer.
func (r *Router) ConfirmTransfer(hash models.Hash, v models.Principal) (*models.Transfer, error) {
	t, executed, err := r.confirm(hash, v)
	if err != nil {
		return nil, err
	}
	if executed {
		log.Printf("[bridge] Transfer %s executed with %d confirmations", t.Hash, len(t.Confirmations))
	}
	r.notifier.TransferUpdated(t)
	return t, nil
}

func (r *Router) confirm(hash models.Hash, v models.Principal) (*models.Transfer, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[hash]
	if !ok {
		return nil, false, errors.Wrapf(ErrTransferNotFound, "%s", hash)
	}
	switch t.status {
	case models.TransferExecuted:
		return nil, false, errors.Wrapf(ErrTransferAlreadyExecuted, "%s", hash)
	case models.TransferFailed:
		return nil, false, errors.Wrapf(ErrTransferCancelled, "%s", hash)
	}

	dst := r.chains[t.dest]
	if !dst.ledger.IsCrossChainValidator(t.source, v) || !r.registry.HasMinimumStake(v) {
		return nil, false, errors.Wrapf(models.ErrNotEligibleValidator, "%s for transfers from chain %s to chain %s", v.Hex(), t.source, t.dest)
	}
	if t.confirmedBy(v) {
		return nil, false, errors.Wrapf(ErrDuplicateConfirmation, "%s on %s", v.Hex(), hash)
	}

	if uint32(len(t.confirmations)+1) < t.required {
		t.confirmations = append(t.confirmations, v)
		r.registry.BeginConfirmation(v, t.dest)
		return t.model(), false, nil
	}

	if err := dst.ledger.Release(t.recipient, t.amount); err != nil {
		return nil, false, errors.Wrapf(err, "release transfer %s", hash)
	}
	t.confirmations = append(t.confirmations, v)
	r.registry.BeginConfirmation(v, t.dest)
	t.status = models.TransferExecuted
	at := r.now().UTC()
	t.finalizedAt = &at
	for _, c := range t.confirmations {
		r.registry.RecordConfirmation(c, t.dest)
	}
	return t.model(), true, nil
}

// CancelTransfer fails a pending transfer and refunds the sender on the
// source chain. Only the operator may cancel.
func (r *Router) CancelTransfer(hash models.Hash, caller models.Principal) (*models.Transfer, error) {
	t, err := r.cancel(hash, caller)
	if err != nil {
		return nil, err
	}
	log.Printf("[bridge] Transfer %s cancelled by %s, %s refunded on chain %s", t.Hash, caller.Hex(), t.Amount, t.SourceChain)
	r.notifier.TransferUpdated(t)
	return t, nil
}

func (r *Router) cancel(hash models.Hash, caller models.Principal) (*models.Transfer, error) {
	if r.operator == (models.Principal{}) || caller != r.operator {
		return nil, errors.Wrapf(ErrUnauthorized, "%s", caller.Hex())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[hash]
	if !ok {
		return nil, errors.Wrapf(ErrTransferNotFound, "%s", hash)
	}
	switch t.status {
	case models.TransferExecuted:
		return nil, errors.Wrapf(ErrTransferAlreadyExecuted, "%s", hash)
	case models.TransferFailed:
		return nil, errors.Wrapf(ErrTransferCancelled, "%s", hash)
	}

	if err := r.chains[t.source].ledger.Unlock(t.sender, t.amount); err != nil {
		return nil, errors.Wrapf(err, "refund transfer %s", hash)
	}
	t.status = models.TransferFailed
	at := r.now().UTC()
	t.finalizedAt = &at
	for _, c := range t.confirmations {
		r.registry.ReleaseConfirmation(c, t.dest)
	}
	return t.model(), nil
}

func (r *Router) chainModel(chain models.ChainID, reg *registration) *models.ChainRegistration {
	return &models.ChainRegistration{
		Chain:                 chain,
		Name:                  reg.name,
		Ledger:                reg.ledger.Name(),
		RequiredConfirmations: reg.required,
		Active:                reg.active,
		RegisteredAt:          reg.registeredAt,
	}
}

// ChainInfo returns the registration of chain
func (r *Router) ChainInfo(chain models.ChainID) (*models.ChainRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.chains[chain]
	if !ok {
		return nil, errors.Wrapf(ErrChainNotRegistered, "chain %s", chain)
	}
	return r.chainModel(chain, reg), nil
}

// Chains returns every registration ordered by chain ID
func (r *Router) Chains() []*models.ChainRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.ChainRegistration, 0, len(r.chains))
	for chain, reg := range r.chains {
		out = append(out, r.chainModel(chain, reg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// Transfer returns one transfer
func (r *Router) Transfer(hash models.Hash) (*models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[hash]
	if !ok {
		return nil, errors.Wrapf(ErrTransferNotFound, "%s", hash)
	}
	return t.model(), nil
}

// Transfers returns transfers in initiation order, filtered by status
// unless status is empty
func (r *Router) Transfers(status models.TransferStatus) []*models.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.Transfer{}
	for _, h := range r.order {
		t := r.transfers[h]
		if status == "" || t.status == status {
			out = append(out, t.model())
		}
	}
	return out
}

// CheckThresholds verifies that for every ordered pair of registered chains
// enough staked cross-chain validators exist to reach the destination's
// threshold
func (r *Router) CheckThresholds() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for dest, dst := range r.chains {
		for origin := range r.chains {
			if origin == dest {
				continue
			}
			n := 0
			for _, v := range dst.ledger.CrossChainValidators(origin) {
				if r.registry.HasMinimumStake(v) {
					n++
				}
			}
			if uint32(n) < dst.required {
				errs = errors.CombineErrors(errs, errors.Wrapf(ErrInvalidThreshold,
					"chain %s requires %d confirmations but only %d validators confirm transfers from chain %s",
					dest, dst.required, n, origin))
			}
		}
	}
	return errs
}
