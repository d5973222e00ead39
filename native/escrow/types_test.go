package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestNormalizeToken(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"usdc", "USDC", false},
		{" USDC ", "USDC", false},
		{"xlm", "XLM", false},
		{"", "", true},
		{"usd coin", "", true},
		{"averylongtokensymbol", "", true},
		{"usd-c", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeToken(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("NormalizeToken(%q): got %v, want ErrInvalidToken", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeToken(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateMilestones(t *testing.T) {
	make10 := func(n int, bps uint32) []*Milestone {
		out := make([]*Milestone, n)
		for i := range out {
			out[i] = &Milestone{Title: "m", Bps: bps}
		}
		return out
	}
	cases := []struct {
		name       string
		milestones []*Milestone
		want       error
	}{
		{"empty", nil, ErrNoMilestones},
		{"eleven entries", make10(11, 1), ErrTooManyMilestones},
		{"sum under", make10(2, 4999), ErrInvalidMilestoneBps},
		{"sum over", make10(2, 5001), ErrInvalidMilestoneBps},
		{"zero bps", []*Milestone{{Bps: 0}, {Bps: 10_000}}, ErrInvalidMilestoneBps},
		{"nil entry", []*Milestone{nil, {Bps: 10_000}}, ErrInvalidMilestoneBps},
		{"single full", make10(1, 10_000), nil},
		{"ten even", make10(10, 1000), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMilestones(tc.milestones)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("got %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMarkCompletedPairsEvidence(t *testing.T) {
	m := &Milestone{Title: "Design", Bps: 10_000}
	if err := m.markCompleted("https://github.com/acme/repo/pull/1", 1234); err != nil {
		t.Fatalf("markCompleted: %v", err)
	}
	if m.Status != MilestonePendingRelease {
		t.Fatalf("status = %v, want pending_release", m.Status)
	}
	if m.PRURL == "" || m.CompletedAt != 1234 {
		t.Fatalf("evidence pair incomplete: %+v", m)
	}
	if err := m.markCompleted("other", 5678); !errors.Is(err, ErrMilestoneAlreadyCompleted) {
		t.Fatalf("second transition: got %v", err)
	}
	if m.PRURL != "https://github.com/acme/repo/pull/1" || m.CompletedAt != 1234 {
		t.Fatalf("failed transition mutated evidence: %+v", m)
	}
}

func TestEscrowCloneIsDeep(t *testing.T) {
	original := &Escrow{
		Token:          "USDC",
		TotalAmount:    big.NewInt(1000),
		ReleasedAmount: big.NewInt(100),
		Milestones:     []*Milestone{{Title: "a", Bps: 10_000}},
	}
	clone := original.Clone()
	clone.TotalAmount.SetInt64(9)
	clone.Milestones[0].Status = MilestoneReleased
	if original.TotalAmount.Int64() != 1000 {
		t.Fatalf("clone shares TotalAmount")
	}
	if original.Milestones[0].Status != MilestonePending {
		t.Fatalf("clone shares milestone")
	}
}

func TestSanitizeEscrow(t *testing.T) {
	valid := func() *Escrow {
		return &Escrow{
			Token:          "usdc",
			TotalAmount:    big.NewInt(1000),
			ReleasedAmount: big.NewInt(0),
			Status:         StatusActive,
			Milestones:     []*Milestone{{Title: "a", Bps: 10_000}},
		}
	}
	sanitized, err := SanitizeEscrow(valid())
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Token != "USDC" {
		t.Fatalf("token = %q, want USDC", sanitized.Token)
	}

	overReleased := valid()
	overReleased.ReleasedAmount = big.NewInt(2000)
	if _, err := SanitizeEscrow(overReleased); err == nil {
		t.Fatalf("released > total accepted")
	}

	zeroTotal := valid()
	zeroTotal.TotalAmount = big.NewInt(0)
	if _, err := SanitizeEscrow(zeroTotal); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero total: got %v", err)
	}

	badStatus := valid()
	badStatus.Status = EscrowStatus(99)
	if _, err := SanitizeEscrow(badStatus); err == nil {
		t.Fatalf("invalid status accepted")
	}
}

func TestStatusStrings(t *testing.T) {
	if StatusActive.String() != "active" || StatusCompleted.String() != "completed" || StatusCancelled.String() != "cancelled" {
		t.Fatalf("escrow status labels wrong")
	}
	if MilestonePendingRelease.String() != "pending_release" || MilestoneRefunded.String() != "refunded" {
		t.Fatalf("milestone status labels wrong")
	}
	if EscrowStatus(42).Valid() || MilestoneStatus(42).Valid() {
		t.Fatalf("out-of-range status reported valid")
	}
	if !MilestoneReleased.Terminal() || !MilestoneRefunded.Terminal() || MilestoneDisputed.Terminal() {
		t.Fatalf("terminal classification wrong")
	}
}
