package escrow_test

import (
	"math/big"
	"testing"

	"streampay/native/escrow"
)

func sampleEscrow() *escrow.Escrow {
	e := &escrow.Escrow{
		Token:          "USDC",
		TotalAmount:    big.NewInt(1000),
		ReleasedAmount: big.NewInt(0),
		Status:         escrow.StatusActive,
		Milestones: []*escrow.Milestone{
			{Title: "Design", TriggerKeyword: "feat/design", Bps: 10_000},
		},
	}
	e.ID[0] = 0xAB
	e.Client[0] = 0x11
	e.Developer[0] = 0x22
	e.Backend[0] = 0x33
	return e
}

func TestInitializedEventAttributes(t *testing.T) {
	evt := escrow.NewInitializedEvent(sampleEscrow())
	if evt.Type != escrow.EventTypeInitialized {
		t.Fatalf("type = %s", evt.Type)
	}
	attrs := evt.Attributes
	if attrs["totalAmount"] != "1000" {
		t.Fatalf("totalAmount = %q", attrs["totalAmount"])
	}
	if attrs["milestoneCount"] != "1" {
		t.Fatalf("milestoneCount = %q", attrs["milestoneCount"])
	}
	if attrs["client"] == "" || attrs["developer"] == "" || attrs["id"] == "" {
		t.Fatalf("identity attributes missing: %v", attrs)
	}
}

func TestFundsReleasedEventFlagsAuto(t *testing.T) {
	e := sampleEscrow()
	manual := escrow.NewFundsReleasedEvent(e, 0, big.NewInt(990), false)
	auto := escrow.NewFundsReleasedEvent(e, 0, big.NewInt(990), true)
	if manual.Attributes["auto"] != "false" || auto.Attributes["auto"] != "true" {
		t.Fatalf("auto flags wrong: %v / %v", manual.Attributes, auto.Attributes)
	}
	if manual.Attributes["amount"] != "990" {
		t.Fatalf("amount = %q", manual.Attributes["amount"])
	}
	if manual.Attributes["index"] != "0" {
		t.Fatalf("index = %q", manual.Attributes["index"])
	}
}

func TestDisputeEvents(t *testing.T) {
	e := sampleEscrow()
	opened := escrow.NewDisputeOpenedEvent(e, 0, "missing feature", 1234)
	if opened.Type != escrow.EventTypeDisputeOpened {
		t.Fatalf("type = %s", opened.Type)
	}
	if opened.Attributes["reason"] != "missing feature" || opened.Attributes["openedAt"] != "1234" {
		t.Fatalf("attrs = %v", opened.Attributes)
	}
	resolved := escrow.NewDisputeResolvedEvent(e, 0, e.Client, big.NewInt(300), "refund")
	if resolved.Attributes["outcome"] != "refund" || resolved.Attributes["amount"] != "300" {
		t.Fatalf("attrs = %v", resolved.Attributes)
	}
}

func TestCancelledAndCompletedEvents(t *testing.T) {
	e := sampleEscrow()
	cancelled := escrow.NewCancelledEvent(e, big.NewInt(700))
	if cancelled.Attributes["refunded"] != "700" {
		t.Fatalf("refunded = %q", cancelled.Attributes["refunded"])
	}
	e.ReleasedAmount = big.NewInt(1000)
	completed := escrow.NewCompletedEvent(e)
	if completed.Attributes["releasedAmount"] != "1000" {
		t.Fatalf("releasedAmount = %q", completed.Attributes["releasedAmount"])
	}
}

func TestEventsTolerateNilEscrow(t *testing.T) {
	if escrow.NewInitializedEvent(nil).Type != escrow.EventTypeInitialized {
		t.Fatalf("nil escrow broke initialized event")
	}
	if escrow.NewCancelledEvent(nil, nil).Attributes["refunded"] != "0" {
		t.Fatalf("nil refund not rendered as 0")
	}
}
