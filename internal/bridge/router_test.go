package bridge

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/ledger"
	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/validator"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	sender   = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	receiver = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	v1       = common.HexToAddress("0x0000000000000000000000000000000000000001")
	v2       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	v3       = common.HexToAddress("0x0000000000000000000000000000000000000003")
	v4       = common.HexToAddress("0x0000000000000000000000000000000000000004")
	outsider = common.HexToAddress("0x0000000000000000000000000000000000000009")
)

const (
	ethereum models.ChainID = 1
	polygon  models.ChainID = 137
)

type fixture struct {
	router   *Router
	registry *validator.Registry
	eth      *ledger.Ledger
	poly     *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := validator.NewRegistry(uint256.NewInt(10))
	eth := ledger.New(ledger.Config{Name: "Ethereum", Symbol: "ETH", ChainID: ethereum, TotalSupply: uint256.NewInt(1_000_000), GenesisOwner: sender}, reg)
	poly := ledger.New(ledger.Config{Name: "Polygon", Symbol: "MATIC", ChainID: polygon, TotalSupply: uint256.NewInt(1_000_000), GenesisOwner: receiver}, reg)

	r := NewRouter(reg, operator)
	if err := r.RegisterChain(ethereum, eth, "Ethereum", 3); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterChain(polygon, poly, "Polygon", 3); err != nil {
		t.Fatal(err)
	}

	for _, v := range []common.Address{v1, v2, v3, v4} {
		if err := eth.AddValidator(v, uint256.NewInt(10)); err != nil {
			t.Fatal(err)
		}
		poly.AddCrossChainValidator(ethereum, v)
		eth.AddCrossChainValidator(polygon, v)
	}
	return &fixture{router: r, registry: reg, eth: eth, poly: poly}
}

func (f *fixture) initiate(t *testing.T, amount uint64) models.Hash {
	t.Helper()
	tr, err := f.router.InitiateTransfer(sender, ethereum, polygon, receiver, uint256.NewInt(amount))
	if err != nil {
		t.Fatalf("InitiateTransfer: %v", err)
	}
	h, err := models.ParseHash(tr.Hash)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (f *fixture) checkSupply(t *testing.T) {
	t.Helper()
	for _, l := range []*ledger.Ledger{f.eth, f.poly} {
		if err := l.CheckSupply(); err != nil {
			t.Errorf("CheckSupply: %v", err)
		}
	}
}

func TestRegisterChain(t *testing.T) {
	f := newFixture(t)

	err := f.router.RegisterChain(ethereum, f.eth, "again", 1)
	if !errors.Is(err, ErrChainAlreadyRegistered) {
		t.Errorf("err = %v, want ErrChainAlreadyRegistered", err)
	}
	err = f.router.RegisterChain(56, f.eth, "BSC", 0)
	if !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("err = %v, want ErrInvalidThreshold", err)
	}

	info, err := f.router.ChainInfo(polygon)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "Polygon" || !info.Active || info.RequiredConfirmations != 3 {
		t.Errorf("ChainInfo = %+v", info)
	}
	if _, err := f.router.ChainInfo(56); !errors.Is(err, ErrChainNotRegistered) {
		t.Errorf("err = %v, want ErrChainNotRegistered", err)
	}
	if n := len(f.router.Chains()); n != 2 {
		t.Errorf("Chains = %d, want 2", n)
	}
}

func TestThresholdExecution(t *testing.T) {
	f := newFixture(t)
	h := f.initiate(t, 100)

	if got := f.eth.BalanceOf(sender); !got.Eq(uint256.NewInt(999_900)) {
		t.Fatalf("sender balance after lock = %s", got.Dec())
	}

	for i, v := range []common.Address{v1, v2} {
		tr, err := f.router.ConfirmTransfer(h, v)
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		if tr.Status != models.TransferPending {
			t.Fatalf("status after %d confirmations = %s", i+1, tr.Status)
		}
		if got := f.poly.BalanceOf(receiver); !got.Eq(uint256.NewInt(1_000_000)) {
			t.Fatalf("receiver credited early: %s", got.Dec())
		}
	}

	tr, err := f.router.ConfirmTransfer(h, v3)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != models.TransferExecuted || tr.FinalizedAt == nil {
		t.Fatalf("transfer = %+v", tr)
	}
	if got := f.poly.BalanceOf(receiver); !got.Eq(uint256.NewInt(1_000_100)) {
		t.Fatalf("receiver balance = %s", got.Dec())
	}

	_, err = f.router.ConfirmTransfer(h, v4)
	if !errors.Is(err, ErrTransferAlreadyExecuted) {
		t.Fatalf("err = %v, want ErrTransferAlreadyExecuted", err)
	}
	if got := f.poly.BalanceOf(receiver); !got.Eq(uint256.NewInt(1_000_100)) {
		t.Fatalf("receiver credited twice: %s", got.Dec())
	}

	for _, v := range []common.Address{v1, v2, v3} {
		rec, err := f.registry.Validator(v)
		if err != nil {
			t.Fatal(err)
		}
		var confirmations, outstanding uint64
		for _, h := range rec.History {
			if h.Chain == polygon {
				confirmations, outstanding = h.Confirmations, h.Outstanding
			}
		}
		if confirmations != 1 || outstanding != 0 {
			t.Errorf("%s history confirmations=%d outstanding=%d", v.Hex(), confirmations, outstanding)
		}
	}
	f.checkSupply(t)
}

func TestConfirmTransferErrors(t *testing.T) {
	f := newFixture(t)
	h := f.initiate(t, 50)

	if _, err := f.router.ConfirmTransfer(h, v1); err != nil {
		t.Fatal(err)
	}

	// staked for polygon blocks but never registered as a cross-chain validator
	if err := f.poly.AddValidator(outsider, uint256.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		hash    models.Hash
		who     common.Address
		setup   func()
		wantErr error
	}{
		{name: "unknown transfer", hash: models.Hash{0x01}, who: v2, wantErr: ErrTransferNotFound},
		{name: "duplicate", hash: h, who: v1, wantErr: ErrDuplicateConfirmation},
		{name: "not cross-chain", hash: h, who: outsider, wantErr: models.ErrNotEligibleValidator},
		{
			name:    "below minimum stake",
			hash:    h,
			who:     v4,
			setup:   func() { _ = f.registry.WithdrawStake(v4, uint256.NewInt(5)) },
			wantErr: models.ErrNotEligibleValidator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := f.router.ConfirmTransfer(tt.hash, tt.who)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	tr, _ := f.router.Transfer(h)
	if len(tr.Confirmations) != 1 {
		t.Errorf("confirmations = %v", tr.Confirmations)
	}
}

func TestInitiateTransferErrors(t *testing.T) {
	f := newFixture(t)
	if err := f.router.SetChainActive(polygon, false); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		from    common.Address
		source  models.ChainID
		dest    models.ChainID
		amount  uint64
		wantErr error
	}{
		{name: "zero amount", from: sender, source: ethereum, dest: 56, amount: 0, wantErr: models.ErrInvalidAmount},
		{name: "unknown dest", from: sender, source: ethereum, dest: 56, amount: 1, wantErr: ErrChainNotRegistered},
		{name: "unknown source", from: sender, source: 56, dest: ethereum, amount: 1, wantErr: ErrChainNotRegistered},
		{name: "inactive dest", from: sender, source: ethereum, dest: polygon, amount: 1, wantErr: ErrChainNotRegistered},
		{name: "same chain", from: sender, source: ethereum, dest: ethereum, amount: 1, wantErr: ErrSameChain},
		{name: "inactive source", from: outsider, source: polygon, dest: ethereum, amount: 1, wantErr: ErrChainNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.InitiateTransfer(tt.from, tt.source, tt.dest, receiver, uint256.NewInt(tt.amount))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := f.router.SetChainActive(polygon, true); err != nil {
		t.Fatal(err)
	}
	_, err := f.router.InitiateTransfer(outsider, ethereum, polygon, receiver, uint256.NewInt(1))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if n := len(f.router.Transfers("")); n != 0 {
		t.Errorf("Transfers = %d, want 0", n)
	}
	f.checkSupply(t)
}

func TestCancelTransfer(t *testing.T) {
	f := newFixture(t)
	h := f.initiate(t, 70)
	if _, err := f.router.ConfirmTransfer(h, v1); err != nil {
		t.Fatal(err)
	}

	// a pending confirmation blocks stake withdrawal
	err := f.registry.WithdrawStake(v1, uint256.NewInt(1))
	if !errors.Is(err, validator.ErrWithdrawalBlocked) {
		t.Fatalf("err = %v, want ErrWithdrawalBlocked", err)
	}

	if _, err := f.router.CancelTransfer(h, sender); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	tr, err := f.router.CancelTransfer(h, operator)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != models.TransferFailed {
		t.Fatalf("status = %s", tr.Status)
	}
	if got := f.eth.BalanceOf(sender); !got.Eq(uint256.NewInt(1_000_000)) {
		t.Errorf("sender not refunded: %s", got.Dec())
	}
	if err := f.registry.WithdrawStake(v1, uint256.NewInt(1)); err != nil {
		t.Errorf("WithdrawStake after cancel: %v", err)
	}

	if _, err := f.router.ConfirmTransfer(h, v2); !errors.Is(err, ErrTransferCancelled) {
		t.Errorf("err = %v, want ErrTransferCancelled", err)
	}
	if _, err := f.router.CancelTransfer(h, operator); !errors.Is(err, ErrTransferCancelled) {
		t.Errorf("err = %v, want ErrTransferCancelled", err)
	}
	if n := len(f.router.Transfers(models.TransferFailed)); n != 1 {
		t.Errorf("failed transfers = %d, want 1", n)
	}
	f.checkSupply(t)
}

func TestCancelDisabledWithoutOperator(t *testing.T) {
	reg := validator.NewRegistry(uint256.NewInt(10))
	r := NewRouter(reg, common.Address{})
	if _, err := r.CancelTransfer(models.Hash{}, common.Address{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestTransferHashesDistinct(t *testing.T) {
	f := newFixture(t)
	a := f.initiate(t, 10)
	b := f.initiate(t, 10)
	if a == b {
		t.Fatal("identical transfers share a hash")
	}
	if n := len(f.router.Transfers(models.TransferPending)); n != 2 {
		t.Errorf("pending transfers = %d, want 2", n)
	}
}

func TestCheckThresholds(t *testing.T) {
	f := newFixture(t)
	if err := f.router.CheckThresholds(); err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}

	reg := validator.NewRegistry(uint256.NewInt(10))
	bsc := ledger.New(ledger.Config{Name: "BSC", Symbol: "BNB", ChainID: 56, TotalSupply: uint256.NewInt(1)}, reg)
	if err := f.router.RegisterChain(56, bsc, "BSC", 3); err != nil {
		t.Fatal(err)
	}
	if err := f.router.CheckThresholds(); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("err = %v, want ErrInvalidThreshold", err)
	}
}

func TestStateRestore(t *testing.T) {
	f := newFixture(t)
	h := f.initiate(t, 30)
	if _, err := f.router.ConfirmTransfer(h, v1); err != nil {
		t.Fatal(err)
	}
	st := f.router.State()

	restored := NewRouter(f.registry, operator)
	ledgers := map[models.ChainID]Ledger{ethereum: f.eth, polygon: f.poly}
	if err := restored.Restore(st, ledgers); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	tr, err := restored.Transfer(h)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != models.TransferPending || len(tr.Confirmations) != 1 {
		t.Fatalf("restored transfer = %+v", tr)
	}
	if _, err := restored.ConfirmTransfer(h, v1); !errors.Is(err, ErrDuplicateConfirmation) {
		t.Errorf("err = %v, want ErrDuplicateConfirmation", err)
	}

	next, err := restored.InitiateTransfer(sender, ethereum, polygon, receiver, uint256.NewInt(30))
	if err != nil {
		t.Fatal(err)
	}
	if next.Hash == h.String() {
		t.Error("restored nonce reused")
	}

	delete(ledgers, polygon)
	if err := NewRouter(f.registry, operator).Restore(st, ledgers); err == nil {
		t.Error("Restore succeeded without a ledger for every chain")
	}
}
