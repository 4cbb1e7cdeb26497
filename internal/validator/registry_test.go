package validator

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"

	"github.com/thanhnp/chain-bridge/internal/models"
	"github.com/thanhnp/chain-bridge/internal/notifier"
)

var (
	val1 = models.Principal{0x01}
	val2 = models.Principal{0x02}
)

type fakeLedger struct {
	chain  models.ChainID
	height uint64
	bad    map[uint64]bool
}

func (f *fakeLedger) ChainID() models.ChainID { return f.chain }

func (f *fakeLedger) CurrentBlockNumber() uint64 { return f.height }

func (f *fakeLedger) VerifyBlock(number uint64) bool {
	return number <= f.height && !f.bad[number]
}

func TestStake(t *testing.T) {
	r := NewRegistry(uint256.NewInt(10))

	changes := 0
	hub := notifier.New()
	hub.OnChange(func(source string) {
		if source == "validators" {
			changes++
		}
	})
	r.SetNotifier(hub)

	if err := r.DepositStake(val1, uint256.NewInt(0)); !errors.Is(err, models.ErrInvalidAmount) {
		t.Errorf("zero deposit err = %v", err)
	}
	if err := r.DepositStake(val1, uint256.NewInt(6)); err != nil {
		t.Fatal(err)
	}
	r.AddSupportedChain(val1, 1)
	if r.IsEligible(val1, 1) || r.HasMinimumStake(val1) {
		t.Error("eligible below minimum stake")
	}

	if err := r.DepositStake(val1, uint256.NewInt(4)); err != nil {
		t.Fatal(err)
	}
	if !r.IsEligible(val1, 1) {
		t.Error("not eligible at minimum stake")
	}
	if r.IsEligible(val1, 137) {
		t.Error("eligible on an unsupported chain")
	}
	if r.IsEligible(val2, 1) {
		t.Error("unknown validator eligible")
	}
	if got := r.Stake(val1); got.Uint64() != 10 {
		t.Errorf("stake = %s", got.Dec())
	}

	if err := r.WithdrawStake(val1, uint256.NewInt(11)); !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("overdraw err = %v", err)
	}
	if err := r.WithdrawStake(val2, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("unknown validator withdraw err = %v", err)
	}
	if err := r.WithdrawStake(val1, uint256.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if r.IsEligible(val1, 1) {
		t.Error("still eligible after dropping below minimum")
	}
	if changes == 0 {
		t.Error("no change events published")
	}
}

func TestWithdrawBlockedByOutstandingConfirmations(t *testing.T) {
	r := NewRegistry(uint256.NewInt(10))
	if err := r.DepositStake(val1, uint256.NewInt(20)); err != nil {
		t.Fatal(err)
	}

	r.BeginConfirmation(val1, 137)
	r.BeginConfirmation(val1, 56)
	if err := r.WithdrawStake(val1, uint256.NewInt(5)); !errors.Is(err, ErrWithdrawalBlocked) {
		t.Fatalf("err = %v, want ErrWithdrawalBlocked", err)
	}

	r.RecordConfirmation(val1, 137)
	if err := r.WithdrawStake(val1, uint256.NewInt(5)); !errors.Is(err, ErrWithdrawalBlocked) {
		t.Fatalf("err = %v, want ErrWithdrawalBlocked", err)
	}
	r.ReleaseConfirmation(val1, 56)
	if err := r.WithdrawStake(val1, uint256.NewInt(5)); err != nil {
		t.Fatalf("withdraw after release: %v", err)
	}

	v, err := r.Validator(val1)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.ValidatorHistory{
		{Chain: 56},
		{Chain: 137, Confirmations: 1},
	}
	if len(v.History) != len(want) {
		t.Fatalf("history = %+v", v.History)
	}
	for i := range want {
		if v.History[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, v.History[i], want[i])
		}
	}

	// releasing with nothing outstanding is a no-op
	r.ReleaseConfirmation(val1, 56)
	if v, _ := r.Validator(val1); v.History[0].Outstanding != 0 {
		t.Errorf("outstanding went below zero: %+v", v.History[0])
	}
}

func TestAttest(t *testing.T) {
	r := NewRegistry(uint256.NewInt(10))
	if err := r.DepositStake(val1, uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	r.AddSupportedChain(val1, 137)

	l := &fakeLedger{chain: 137, height: 3, bad: map[uint64]bool{2: true}}

	tests := []struct {
		name      string
		validator models.Principal
		number    uint64
		wantValid bool
		wantErr   error
	}{
		{name: "valid block", validator: val1, number: 1, wantValid: true},
		{name: "tampered block", validator: val1, number: 2, wantValid: false},
		{name: "missing block", validator: val1, number: 9, wantErr: models.ErrBlockNotFound},
		{name: "duplicate", validator: val1, number: 1, wantErr: ErrDuplicateValidation},
		{name: "ineligible", validator: val2, number: 1, wantErr: models.ErrNotEligibleValidator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Attest(tt.validator, l, tt.number)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if tt.wantErr != ErrDuplicateValidation {
					if stored, ok := r.Validation(tt.validator, 137, tt.number); ok {
						t.Errorf("rejected attestation was stored: %+v", stored)
					}
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Valid != tt.wantValid || got.Chain != 137 || got.BlockNumber != tt.number {
				t.Errorf("validation = %+v", got)
			}
			stored, ok := r.Validation(tt.validator, 137, tt.number)
			if !ok || stored != got {
				t.Errorf("stored validation = %+v, %v", stored, ok)
			}
		})
	}
}

func TestAttestBeforeBlockExists(t *testing.T) {
	r := NewRegistry(uint256.NewInt(10))
	if err := r.DepositStake(val1, uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	r.AddSupportedChain(val1, 137)

	l := &fakeLedger{chain: 137, height: 0}
	if _, err := r.Attest(val1, l, 1); !errors.Is(err, models.ErrBlockNotFound) {
		t.Fatalf("attest ahead of the chain err = %v", err)
	}

	// once the block is appended the same validator can still attest it
	l.height = 1
	got, err := r.Attest(val1, l, 1)
	if err != nil {
		t.Fatalf("attest after append: %v", err)
	}
	if !got.Valid {
		t.Errorf("validation = %+v", got)
	}
}

func TestSupportingCount(t *testing.T) {
	r := NewRegistry(uint256.NewInt(10))
	for _, v := range []models.Principal{val1, val2} {
		r.AddSupportedChain(v, 1)
	}
	if err := r.DepositStake(val1, uint256.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	if err := r.DepositStake(val2, uint256.NewInt(9)); err != nil {
		t.Fatal(err)
	}
	if got := r.SupportingCount(1); got != 1 {
		t.Errorf("SupportingCount(1) = %d, want 1", got)
	}
	if got := r.SupportingCount(2); got != 0 {
		t.Errorf("SupportingCount(2) = %d, want 0", got)
	}
}

func TestRestore(t *testing.T) {
	r := NewRegistry(uint256.NewInt(10))
	if err := r.DepositStake(val1, uint256.NewInt(15)); err != nil {
		t.Fatal(err)
	}
	r.AddSupportedChain(val1, 1)
	r.AddSupportedChain(val1, 10)
	r.RecordValidation(val1, 1)
	r.BeginConfirmation(val1, 10)
	if _, err := r.Attest(val1, &fakeLedger{chain: 1, height: 1}, 1); err != nil {
		t.Fatal(err)
	}

	saved := r.Validators()

	restored := NewRegistry(uint256.NewInt(10))
	if err := restored.Restore(saved); err != nil {
		t.Fatal(err)
	}

	got, err := restored.Validator(val1)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := r.Validator(val1)
	if got.Stake != want.Stake || len(got.SupportedChains) != 2 || len(got.Validations) != 1 {
		t.Errorf("restored = %+v, want %+v", got, want)
	}
	if len(got.History) != 2 || got.History[0].BlocksValidated != 1 || got.History[1].Outstanding != 1 {
		t.Errorf("restored history = %+v", got.History)
	}
	if !restored.IsEligible(val1, 10) {
		t.Error("restored validator not eligible")
	}
	if _, err := restored.Attest(val1, &fakeLedger{chain: 1, height: 1}, 1); !errors.Is(err, ErrDuplicateValidation) {
		t.Errorf("re-attest after restore err = %v", err)
	}
	if err := restored.WithdrawStake(val1, uint256.NewInt(1)); !errors.Is(err, ErrWithdrawalBlocked) {
		t.Errorf("withdraw err = %v", err)
	}

	bad := []*models.Validator{{Address: "not-an-address", Stake: "1"}}
	if err := restored.Restore(bad); err == nil {
		t.Error("Restore accepted a bad address")
	}
	if _, err := restored.Validator(val2); !errors.Is(err, ErrValidatorNotFound) {
		t.Errorf("err = %v, want ErrValidatorNotFound", err)
	}
}
