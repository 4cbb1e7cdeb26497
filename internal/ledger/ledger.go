// Package ledger implements one chain's account ledger, pending pool and
// hash-linked block chain.
package ledger

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/notifier"
)

// Decimals is the number of fractional digits of every ledger token
const Decimals = 18

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrBlockNotFound         = models.ErrBlockNotFound
)

// Registry is the validator registry as seen by a ledger
type Registry interface {
	IsEligible(v models.Principal, chain models.ChainID) bool
	DepositStake(v models.Principal, amount *uint256.Int) error
	AddSupportedChain(v models.Principal, chain models.ChainID)
	RecordValidation(v models.Principal, chain models.ChainID)
}

// Config holds the genesis parameters of a ledger
type Config struct {
	Name         string
	Symbol       string
	ChainID      models.ChainID
	TotalSupply  *uint256.Int
	GenesisOwner models.Principal

	// RetainUnincluded keeps pool entries a submitted block did not
	// reference instead of dropping them.
	RetainUnincluded bool
}

// Ledger is a single chain's state. All mutations are serialized by mu.
type Ledger struct {
	mu sync.RWMutex

	name             string
	symbol           string
	chainID          models.ChainID
	totalSupply      *uint256.Int
	retainUnincluded bool

	balances   map[models.Principal]*uint256.Int
	allowances map[models.Principal]map[models.Principal]*uint256.Int
	pending    []*pendingTx
	nonce      uint64
	blocks     []*Block
	byHash     map[models.Hash]uint64

	// origin chain -> validators allowed to confirm transfers from it into this chain
	crossChainValidators map[models.ChainID]map[models.Principal]struct{}

	bridgedOut *uint256.Int
	bridgedIn  *uint256.Int

	registry Registry
	notifier *notifier.Hub
	now      func() time.Time
}

// New creates a ledger, credits the whole supply to the genesis owner and
// appends the genesis block
func New(cfg Config, registry Registry) *Ledger {
	l := &Ledger{
		name:                 cfg.Name,
		symbol:               cfg.Symbol,
		chainID:              cfg.ChainID,
		totalSupply:          new(uint256.Int).Set(cfg.TotalSupply),
		retainUnincluded:     cfg.RetainUnincluded,
		balances:             make(map[models.Principal]*uint256.Int),
		allowances:           make(map[models.Principal]map[models.Principal]*uint256.Int),
		crossChainValidators: make(map[models.ChainID]map[models.Principal]struct{}),
		bridgedOut:           uint256.NewInt(0),
		bridgedIn:            uint256.NewInt(0),
		registry:             registry,
		now:                  time.Now,
	}
	if !cfg.TotalSupply.IsZero() {
		l.balances[cfg.GenesisOwner] = new(uint256.Int).Set(cfg.TotalSupply)
	}

	genesis := &Block{
		Number:       0,
		PreviousHash: models.ZeroHash,
		Timestamp:    l.timestamp(),
		Payload:      GenesisPayload,
	}
	genesis.Hash = genesis.CalculateHash()
	l.blocks = []*Block{genesis}
	l.byHash = map[models.Hash]uint64{genesis.Hash: 0}

	return l
}

// SetNotifier sets the hub that receives block and change events
func (l *Ledger) SetNotifier(hub *notifier.Hub) {
	l.notifier = hub
}

func (l *Ledger) changed() {
	l.notifier.Changed("ledger:" + l.chainID.String())
}

// timestamp returns the current time at block precision
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Second)
}

// ChainID returns the chain this ledger belongs to
func (l *Ledger) ChainID() models.ChainID {
	return l.chainID
}

// Name returns the ledger's token name
func (l *Ledger) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.name
}

// balance returns the balance of addr - must be called with lock held
func (l *Ledger) balance(addr models.Principal) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return uint256.NewInt(0)
}

// debit removes amount from addr - must be called with lock held
func (l *Ledger) debit(addr models.Principal, amount *uint256.Int) error {
	bal := l.balance(addr)
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", addr.Hex(), bal.Dec(), amount.Dec())
	}
	l.setBalance(addr, new(uint256.Int).Sub(bal, amount))
	return nil
}

// credit adds amount to addr - must be called with lock held
func (l *Ledger) credit(addr models.Principal, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(l.balance(addr), amount)
	if overflow {
		return errors.Newf("balance overflow for %s", addr.Hex())
	}
	l.setBalance(addr, sum)
	return nil
}

func (l *Ledger) setBalance(addr models.Principal, v *uint256.Int) {
	if v.IsZero() {
		delete(l.balances, addr)
		return
	}
	l.balances[addr] = v
}

// move transfers amount between two accounts, all or nothing - must be called with lock held
func (l *Ledger) move(from, to models.Principal, amount *uint256.Int) error {
	if l.balance(from).Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", from.Hex(), l.balance(from).Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	if _, overflow := new(uint256.Int).AddOverflow(l.balance(to), amount); overflow {
		return errors.Newf("balance overflow for %s", to.Hex())
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	return l.credit(to, amount)
}

// Transfer moves amount from one account to another immediately
func (l *Ledger) Transfer(from, to models.Principal, amount *uint256.Int) error {
	if amount == nil {
		return models.ErrInvalidAmount
	}

	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.move(from, to, amount)
}

// Approve sets the amount spender may move out of owner's account
func (l *Ledger) Approve(owner, spender models.Principal, amount *uint256.Int) error {
	if amount == nil {
		return models.ErrInvalidAmount
	}

	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	spenders, ok := l.allowances[owner]
	if !ok {
		spenders = make(map[models.Principal]*uint256.Int)
		l.allowances[owner] = spenders
	}
	if amount.IsZero() {
		delete(spenders, spender)
		return nil
	}
	spenders[spender] = new(uint256.Int).Set(amount)
	return nil
}

// Allowance returns the amount spender may still move out of owner's account
func (l *Ledger) Allowance(owner, spender models.Principal) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return new(uint256.Int).Set(l.allowance(owner, spender))
}

func (l *Ledger) allowance(owner, spender models.Principal) *uint256.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return uint256.NewInt(0)
}

// TransferFrom moves amount out of from's account on behalf of spender
func (l *Ledger) TransferFrom(spender, from, to models.Principal, amount *uint256.Int) error {
	if amount == nil {
		return models.ErrInvalidAmount
	}

	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(from, spender)
	if allowed.Lt(amount) {
		return errors.Wrapf(ErrInsufficientAllowance, "%s may spend %s of %s, needs %s", spender.Hex(), allowed.Dec(), from.Hex(), amount.Dec())
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}

	left := new(uint256.Int).Sub(allowed, amount)
	if left.IsZero() {
		delete(l.allowances[from], spender)
	} else {
		l.allowances[from][spender] = left
	}
	return nil
}

// CreateTransaction queues a transfer for the next block. The sender's
// balance is checked but nothing is reserved.
func (l *Ledger) CreateTransaction(from, to models.Principal, amount *uint256.Int) (models.Hash, error) {
	if amount == nil {
		return models.Hash{}, models.ErrInvalidAmount
	}

	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	if bal := l.balance(from); bal.Lt(amount) {
		return models.Hash{}, errors.Wrapf(ErrInsufficientBalance, "%s has %s, needs %s", from.Hex(), bal.Dec(), amount.Dec())
	}

	tx := &pendingTx{
		from:      from,
		to:        to,
		amount:    new(uint256.Int).Set(amount),
		nonce:     l.nonce,
		createdAt: l.now().UTC(),
	}
	tx.hash = TransactionHash(l.chainID, from, to, amount, tx.nonce)
	l.nonce++
	l.pending = append(l.pending, tx)

	return tx.hash, nil
}

// SubmitBlock settles the referenced pool entries in pool order and appends
// a block. Entries that no longer validate are skipped rather than failing
// the block. The pool is emptied unless RetainUnincluded is set, in which
// case entries the block did not reference stay queued.
func (l *Ledger) SubmitBlock(submitter models.Principal, payload []byte, txHashes []models.Hash) (*models.SubmitResult, error) {
	result, err := l.submitBlock(submitter, payload, txHashes)
	if err != nil {
		return nil, err
	}

	log.Printf("[ledger:%s] Block %d submitted by %s (%d applied, %d skipped, %d dropped)",
		l.chainID, result.Block.Number, submitter.Hex(), len(result.Applied), len(result.Skipped), result.Dropped)
	l.notifier.BlockSubmitted(result.Block)
	return result, nil
}

func (l *Ledger) submitBlock(submitter models.Principal, payload []byte, txHashes []models.Hash) (*models.SubmitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.registry.IsEligible(submitter, l.chainID) {
		return nil, errors.Wrapf(models.ErrNotEligibleValidator, "%s on chain %s", submitter.Hex(), l.chainID)
	}

	referenced := make(map[models.Hash]struct{}, len(txHashes))
	for _, h := range txHashes {
		referenced[h] = struct{}{}
	}

	result := &models.SubmitResult{Applied: []string{}, Skipped: []string{}}
	var kept []*pendingTx
	for _, tx := range l.pending {
		if _, ok := referenced[tx.hash]; !ok {
			if l.retainUnincluded {
				kept = append(kept, tx)
			} else {
				result.Dropped++
			}
			continue
		}
		if err := l.move(tx.from, tx.to, tx.amount); err != nil {
			result.Skipped = append(result.Skipped, tx.hash.String())
			continue
		}
		result.Applied = append(result.Applied, tx.hash.String())
	}
	l.pending = kept

	prev := l.blocks[len(l.blocks)-1]
	ts := l.timestamp()
	if ts.Before(prev.Timestamp) {
		ts = prev.Timestamp
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	hashes := make([]models.Hash, len(txHashes))
	copy(hashes, txHashes)

	block := &Block{
		Number:       prev.Number + 1,
		PreviousHash: prev.Hash,
		Timestamp:    ts,
		Validator:    submitter,
		Payload:      body,
		Transactions: hashes,
	}
	block.Hash = block.CalculateHash()
	l.blocks = append(l.blocks, block)
	l.byHash[block.Hash] = block.Number

	l.registry.RecordValidation(submitter, l.chainID)

	result.Block = block.Model(l.chainID)
	return result, nil
}

// VerifyBlock recomputes the block's hash and checks its link to the
// previous block. Any break, including an unknown number, yields false.
func (l *Ledger) VerifyBlock(number uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if number >= uint64(len(l.blocks)) {
		return false
	}
	b := l.blocks[number]
	if b == nil || b.Number != number || b.CalculateHash() != b.Hash {
		return false
	}
	if number == 0 {
		return b.PreviousHash == models.ZeroHash
	}
	prev := l.blocks[number-1]
	return prev != nil && b.PreviousHash == prev.Hash
}

// AddValidator stakes amount for v and adds this chain to its supported set
func (l *Ledger) AddValidator(v models.Principal, stake *uint256.Int) error {
	if err := l.registry.DepositStake(v, stake); err != nil {
		return err
	}
	l.registry.AddSupportedChain(v, l.chainID)
	return nil
}

// AddCrossChainValidator allows v to confirm transfers from origin into this chain
func (l *Ledger) AddCrossChainValidator(origin models.ChainID, v models.Principal) {
	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.crossChainValidators[origin]
	if !ok {
		set = make(map[models.Principal]struct{})
		l.crossChainValidators[origin] = set
	}
	set[v] = struct{}{}
}

// IsCrossChainValidator reports whether v may confirm transfers from origin into this chain
func (l *Ledger) IsCrossChainValidator(origin models.ChainID, v models.Principal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.crossChainValidators[origin][v]
	return ok
}

// CrossChainValidators returns the validators allowed to confirm transfers from origin
func (l *Ledger) CrossChainValidators(origin models.ChainID) []models.Principal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Principal, 0, len(l.crossChainValidators[origin]))
	for v := range l.crossChainValidators[origin] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Lock debits funds leaving this chain through the bridge
func (l *Ledger) Lock(from models.Principal, amount *uint256.Int) error {
	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.bridgedOut = new(uint256.Int).Add(l.bridgedOut, amount)
	return nil
}

// Unlock returns previously locked funds to their sender
func (l *Ledger) Unlock(from models.Principal, amount *uint256.Int) error {
	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bridgedOut.Lt(amount) {
		return errors.Newf("unlock %s exceeds locked %s", amount.Dec(), l.bridgedOut.Dec())
	}
	if err := l.credit(from, amount); err != nil {
		return err
	}
	l.bridgedOut = new(uint256.Int).Sub(l.bridgedOut, amount)
	return nil
}

// Release credits funds arriving on this chain through the bridge
func (l *Ledger) Release(to models.Principal, amount *uint256.Int) error {
	defer l.changed()
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.credit(to, amount); err != nil {
		return err
	}
	l.bridgedIn = new(uint256.Int).Add(l.bridgedIn, amount)
	return nil
}

// BalanceOf returns the balance of addr
func (l *Ledger) BalanceOf(addr models.Principal) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return new(uint256.Int).Set(l.balance(addr))
}

// TotalSupply returns the genesis supply of the ledger
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return new(uint256.Int).Set(l.totalSupply)
}

// CurrentBlockNumber returns the number of the latest block
func (l *Ledger) CurrentBlockNumber() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[len(l.blocks)-1].Number
}

// Block returns the block with the given number
func (l *Ledger) Block(number uint64) (*models.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if number >= uint64(len(l.blocks)) {
		return nil, errors.Wrapf(ErrBlockNotFound, "chain %s block %d", l.chainID, number)
	}
	return l.blocks[number].Model(l.chainID), nil
}

// BlockByHash returns the block with the given hash
func (l *Ledger) BlockByHash(hash models.Hash) (*models.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n, ok := l.byHash[hash]
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotFound, "chain %s hash %s", l.chainID, hash)
	}
	return l.blocks[n].Model(l.chainID), nil
}

// LatestBlock returns the most recently appended block
func (l *Ledger) LatestBlock() *models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.blocks[len(l.blocks)-1].Model(l.chainID)
}

// Blocks returns blocks from number onwards
func (l *Ledger) Blocks(from uint64) []*models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.Block
	for n := from; n < uint64(len(l.blocks)); n++ {
		out = append(out, l.blocks[n].Model(l.chainID))
	}
	return out
}

// PendingTransactions returns the pool in insertion order
func (l *Ledger) PendingTransactions() []models.PendingTransaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.PendingTransaction, len(l.pending))
	for i, tx := range l.pending {
		out[i] = tx.model()
	}
	return out
}

// PendingHashes returns the hashes of the pool in insertion order
func (l *Ledger) PendingHashes() []models.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Hash, len(l.pending))
	for i, tx := range l.pending {
		out[i] = tx.hash
	}
	return out
}

// PendingCount returns the size of the pool
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.pending)
}

// Info returns the ledger's headline figures
func (l *Ledger) Info() *models.LedgerInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return &models.LedgerInfo{
		Chain:        l.chainID,
		Name:         l.name,
		Symbol:       l.symbol,
		Decimals:     Decimals,
		TotalSupply:  l.totalSupply.Dec(),
		BridgedOut:   l.bridgedOut.Dec(),
		BridgedIn:    l.bridgedIn.Dec(),
		CurrentBlock: l.blocks[len(l.blocks)-1].Number,
		PendingCount: len(l.pending),
		Accounts:     len(l.balances),
	}
}

// CheckSupply verifies that balances add up to the supply adjusted by
// bridge outflows and inflows
func (l *Ledger) CheckSupply() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := uint256.NewInt(0)
	for _, b := range l.balances {
		sum.Add(sum, b)
	}
	// sum + out == supply + in, kept on both sides to avoid underflow
	lhs := new(uint256.Int).Add(sum, l.bridgedOut)
	rhs := new(uint256.Int).Add(l.totalSupply, l.bridgedIn)
	if !lhs.Eq(rhs) {
		return errors.Newf("chain %s: balances %s + bridged out %s != supply %s + bridged in %s",
			l.chainID, sum.Dec(), l.bridgedOut.Dec(), l.totalSupply.Dec(), l.bridgedIn.Dec())
	}
	return nil
}
