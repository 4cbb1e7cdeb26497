// Package validator tracks validator stake, supported chains and validation
// history independently of any one chain.
package validator

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/notifier"
)

var (
	ErrInsufficientStake   = errors.New("insufficient stake")
	ErrWithdrawalBlocked   = errors.New("withdrawal blocked by outstanding confirmations")
	ErrValidatorNotFound   = errors.New("validator not found")
	ErrDuplicateValidation = errors.New("block already validated by this validator")
)

// BlockVerifier is the part of a ledger the registry needs to attest blocks
type BlockVerifier interface {
	ChainID() models.ChainID
	CurrentBlockNumber() uint64
	VerifyBlock(number uint64) bool
}

type history struct {
	blocksValidated uint64
	confirmations   uint64
	outstanding     uint64
}

type validationKey struct {
	chain  models.ChainID
	number uint64
}

type record struct {
	stake        *uint256.Int
	chains       map[models.ChainID]struct{}
	history      map[models.ChainID]*history
	validations  map[validationKey]models.Validation
	registeredAt time.Time
}

// Registry is the single validator registry shared by every ledger and the
// bridge router
type Registry struct {
	mu         sync.RWMutex
	minStake   *uint256.Int
	validators map[models.Principal]*record
	notifier   *notifier.Hub
	now        func() time.Time
}

// NewRegistry creates a registry with the given minimum eligible stake
func NewRegistry(minStake *uint256.Int) *Registry {
	return &Registry{
		minStake:   new(uint256.Int).Set(minStake),
		validators: make(map[models.Principal]*record),
		now:        time.Now,
	}
}

// SetNotifier sets the hub that receives change events
func (r *Registry) SetNotifier(hub *notifier.Hub) {
	r.notifier = hub
}

func (r *Registry) changed() {
	r.notifier.Changed("validators")
}

// MinStake returns the minimum stake required for eligibility
func (r *Registry) MinStake() *uint256.Int {
	return new(uint256.Int).Set(r.minStake)
}

// getOrCreate returns the validator record, creating it if needed - must be called with lock held
func (r *Registry) getOrCreate(v models.Principal) *record {
	rec, ok := r.validators[v]
	if !ok {
		rec = &record{
			stake:        uint256.NewInt(0),
			chains:       make(map[models.ChainID]struct{}),
			history:      make(map[models.ChainID]*history),
			validations:  make(map[validationKey]models.Validation),
			registeredAt: r.now().UTC(),
		}
		r.validators[v] = rec
	}
	return rec
}

func (rec *record) historyFor(chain models.ChainID) *history {
	h, ok := rec.history[chain]
	if !ok {
		h = &history{}
		rec.history[chain] = h
	}
	return h
}

func (rec *record) outstanding() uint64 {
	var n uint64
	for _, h := range rec.history {
		n += h.outstanding
	}
	return n
}

// DepositStake increases a validator's stake, registering it on first deposit
func (r *Registry) DepositStake(v models.Principal, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return models.ErrInvalidAmount
	}

	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreate(v)
	sum, overflow := new(uint256.Int).AddOverflow(rec.stake, amount)
	if overflow {
		return errors.Newf("stake overflow for %s", v.Hex())
	}
	rec.stake = sum
	return nil
}

// WithdrawStake decreases a validator's stake. It is refused while the
// validator has confirmations cast on transfers that are still pending.
func (r *Registry) WithdrawStake(v models.Principal, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return models.ErrInvalidAmount
	}

	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.validators[v]
	if !ok {
		return errors.Wrapf(ErrInsufficientStake, "%s has no stake", v.Hex())
	}
	if amount.Gt(rec.stake) {
		return errors.Wrapf(ErrInsufficientStake, "withdraw %s exceeds stake %s", amount.Dec(), rec.stake.Dec())
	}
	if n := rec.outstanding(); n > 0 {
		return errors.Wrapf(ErrWithdrawalBlocked, "%d confirmations outstanding", n)
	}
	rec.stake = new(uint256.Int).Sub(rec.stake, amount)
	return nil
}

// AddSupportedChain adds chain to the validator's supported set
func (r *Registry) AddSupportedChain(v models.Principal, chain models.ChainID) {
	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.getOrCreate(v).chains[chain] = struct{}{}
}

// IsEligible reports whether v may submit blocks on chain
func (r *Registry) IsEligible(v models.Principal, chain models.ChainID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.validators[v]
	if !ok || rec.stake.Lt(r.minStake) {
		return false
	}
	_, ok = rec.chains[chain]
	return ok
}

// HasMinimumStake reports whether v's stake meets the minimum
func (r *Registry) HasMinimumStake(v models.Principal) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.validators[v]
	return ok && !rec.stake.Lt(r.minStake)
}

// Stake returns the validator's current stake
func (r *Registry) Stake(v models.Principal) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.validators[v]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(rec.stake)
}

// RecordValidation counts a block submitted by v on chain
func (r *Registry) RecordValidation(v models.Principal, chain models.ChainID) {
	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.getOrCreate(v).historyFor(chain).blocksValidated++
}

// BeginConfirmation marks a confirmation cast by v on a transfer into chain
// that has not executed yet
func (r *Registry) BeginConfirmation(v models.Principal, chain models.ChainID) {
	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.getOrCreate(v).historyFor(chain).outstanding++
}

// ReleaseConfirmation drops an outstanding confirmation without crediting it
func (r *Registry) ReleaseConfirmation(v models.Principal, chain models.ChainID) {
	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.getOrCreate(v).historyFor(chain)
	if h.outstanding > 0 {
		h.outstanding--
	}
}

// RecordConfirmation counts a confirmation that took part in an executed
// transfer into chain
func (r *Registry) RecordConfirmation(v models.Principal, chain models.ChainID) {
	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.getOrCreate(v).historyFor(chain)
	h.confirmations++
	if h.outstanding > 0 {
		h.outstanding--
	}
}

// Attest has v verify a block on the ledger and records the verdict
func (r *Registry) Attest(v models.Principal, ledger BlockVerifier, number uint64) (models.Validation, error) {
	chain := ledger.ChainID()
	if !r.IsEligible(v, chain) {
		return models.Validation{}, errors.Wrapf(models.ErrNotEligibleValidator, "%s on chain %s", v.Hex(), chain)
	}

	key := validationKey{chain: chain, number: number}

	if _, dup := r.Validation(v, chain, number); dup {
		return models.Validation{}, ErrDuplicateValidation
	}

	// The ledger takes its own lock, so check it before re-entering ours.
	if number > ledger.CurrentBlockNumber() {
		return models.Validation{}, errors.Wrapf(models.ErrBlockNotFound, "chain %s block %d", chain, number)
	}
	valid := ledger.VerifyBlock(number)

	defer r.changed()
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.getOrCreate(v)
	if _, dup := rec.validations[key]; dup {
		return models.Validation{}, ErrDuplicateValidation
	}
	val := models.Validation{
		Chain:       chain,
		BlockNumber: number,
		Validator:   v.Hex(),
		Valid:       valid,
		Timestamp:   r.now().UTC(),
	}
	rec.validations[key] = val
	return val, nil
}

// Validation returns v's recorded verdict on a block
func (r *Registry) Validation(v models.Principal, chain models.ChainID, number uint64) (models.Validation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.validators[v]
	if !ok {
		return models.Validation{}, false
	}
	val, ok := rec.validations[validationKey{chain: chain, number: number}]
	return val, ok
}

// SupportingCount returns how many validators meeting the minimum stake support chain
func (r *Registry) SupportingCount(chain models.ChainID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.validators {
		if _, ok := rec.chains[chain]; ok && !rec.stake.Lt(r.minStake) {
			n++
		}
	}
	return n
}

// Validator returns the projection of one validator record
func (r *Registry) Validator(v models.Principal) (*models.Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.validators[v]
	if !ok {
		return nil, errors.Wrapf(ErrValidatorNotFound, "%s", v.Hex())
	}
	return r.project(v, rec), nil
}

// Validators returns every validator record ordered by address
func (r *Registry) Validators() []*models.Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Validator, 0, len(r.validators))
	for v, rec := range r.validators {
		out = append(out, r.project(v, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// project builds the projection of a record - must be called with lock held
func (r *Registry) project(v models.Principal, rec *record) *models.Validator {
	out := &models.Validator{
		Address:       v.Hex(),
		Stake:         rec.stake.Dec(),
		RegisteredAt:  rec.registeredAt,
		MeetsMinStake: !rec.stake.Lt(r.minStake),
	}
	for chain := range rec.chains {
		out.SupportedChains = append(out.SupportedChains, chain)
	}
	sort.Slice(out.SupportedChains, func(i, j int) bool { return out.SupportedChains[i] < out.SupportedChains[j] })

	for chain, h := range rec.history {
		out.History = append(out.History, models.ValidatorHistory{
			Chain:           chain,
			BlocksValidated: h.blocksValidated,
			Confirmations:   h.confirmations,
			Outstanding:     h.outstanding,
		})
	}
	sort.Slice(out.History, func(i, j int) bool { return out.History[i].Chain < out.History[j].Chain })

	for _, val := range rec.validations {
		out.Validations = append(out.Validations, val)
	}
	sort.Slice(out.Validations, func(i, j int) bool {
		a, b := out.Validations[i], out.Validations[j]
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		return a.BlockNumber < b.BlockNumber
	})
	return out
}

// Restore replaces the registry contents with previously saved records
func (r *Registry) Restore(validators []*models.Validator) error {
	restored := make(map[models.Principal]*record, len(validators))
	for _, mv := range validators {
		addr, err := models.ParsePrincipal(mv.Address)
		if err != nil {
			return err
		}
		stake, err := models.ParseAmount(mv.Stake)
		if err != nil {
			return err
		}
		rec := &record{
			stake:        stake,
			chains:       make(map[models.ChainID]struct{}),
			history:      make(map[models.ChainID]*history),
			validations:  make(map[validationKey]models.Validation),
			registeredAt: mv.RegisteredAt,
		}
		for _, chain := range mv.SupportedChains {
			rec.chains[chain] = struct{}{}
		}
		for _, h := range mv.History {
			rec.history[h.Chain] = &history{
				blocksValidated: h.BlocksValidated,
				confirmations:   h.Confirmations,
				outstanding:     h.Outstanding,
			}
		}
		for _, val := range mv.Validations {
			rec.validations[validationKey{chain: val.Chain, number: val.BlockNumber}] = val
		}
		restored[addr] = rec
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators = restored
	return nil
}
