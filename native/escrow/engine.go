package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"streampay/core/events"
	"streampay/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the durable-state collaborator. Implementations must be
// atomic at the call boundary: a Put either lands fully or errors with the
// previous record intact.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowVaultAddress(token string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine orchestrates the milestone escrow state machine over external state,
// clock and event collaborators. It holds no state of its own beyond the
// wiring; every operation loads, validates, mutates and stores one agreement.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the wall clock.
// Callers override collaborators via the Set methods.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps; passing nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation; emission never fails an operation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// EscrowID derives the deterministic identifier for an agreement from its
// three identities and a caller-supplied salt, so resubmitting the same
// initialization is caught by the idempotency guard.
func EscrowID(client, developer, backend [20]byte, salt [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash(client[:], developer[:], backend[:], salt[:])
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotInitialized
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balances: make(map[string]*big.Int)}
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

// transferToken moves amount of token between two accounts. A zero amount is
// skipped but succeeds; insufficient balance aborts before either account is
// written, so a failed transfer leaves both untouched. A self-transfer is
// balance-checked but moves nothing: addresses are opaque caller-supplied
// bytes, so a party may legitimately coincide with the vault, and writing two
// independent copies of the same record back would mint the amount.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if from == to {
		if ensureAccount(fromAcc).Balance(normalized).Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, normalized)
		}
		return nil
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	fromBal := fromAcc.Balance(normalized)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, normalized)
	}
	fromAcc.Balances[normalized] = new(big.Int).Sub(fromBal, amount)
	toAcc.Balances[normalized] = new(big.Int).Add(toAcc.Balance(normalized), amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// MilestoneDefinition carries the immutable milestone fields supplied at
// initialization.
type MilestoneDefinition struct {
	Title          string
	TriggerKeyword string
	Bps            uint32
}

// InitParams collects everything Initialize needs to create one agreement.
type InitParams struct {
	Client        [20]byte
	Developer     [20]byte
	Backend       [20]byte
	Token         string
	TotalAmount   *big.Int
	Milestones    []MilestoneDefinition
	DisputeWindow uint64
	Salt          [32]byte
}

// Initialize validates the agreement definition, pulls the full deposit from
// the client into the token vault and persists the new escrow as Active. The
// caller must be the client. Re-initializing an existing ID fails.
func (e *Engine) Initialize(caller [20]byte, params InitParams) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	id := EscrowID(params.Client, params.Developer, params.Backend, params.Salt)
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, ErrAlreadyInitialized
	}
	if params.TotalAmount == nil || params.TotalAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	milestones := make([]*Milestone, len(params.Milestones))
	for i, def := range params.Milestones {
		milestones[i] = &Milestone{
			Title:          def.Title,
			TriggerKeyword: def.TriggerKeyword,
			Bps:            def.Bps,
			Status:         MilestonePending,
		}
	}
	if err := ValidateMilestones(milestones); err != nil {
		return nil, err
	}
	token, err := NormalizeToken(params.Token)
	if err != nil {
		return nil, err
	}
	if caller != params.Client {
		return nil, ErrUnauthorized
	}
	vault, err := e.state.EscrowVaultAddress(token)
	if err != nil {
		return nil, err
	}
	if err := e.transferToken(params.Client, vault, token, params.TotalAmount); err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:             id,
		Client:         params.Client,
		Developer:      params.Developer,
		Backend:        params.Backend,
		Token:          token,
		TotalAmount:    new(big.Int).Set(params.TotalAmount),
		ReleasedAmount: big.NewInt(0),
		DisputeWindow:  params.DisputeWindow,
		CreatedAt:      e.now(),
		Status:         StatusActive,
		Milestones:     milestones,
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewInitializedEvent(esc))
	return esc.Clone(), nil
}

// MarkComplete attests that the work behind a milestone is done, recording
// the evidence URL and starting the dispute window timer. Backend only.
func (e *Engine) MarkComplete(id [32]byte, caller [20]byte, index uint32, prURL string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Backend {
		return ErrUnauthorized
	}
	if err := esc.assertActive(); err != nil {
		return err
	}
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return err
	}
	if err := m.markCompleted(prURL, e.now()); err != nil {
		return err
	}
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewMilestoneCompletedEvent(esc, index, m))
	return nil
}

// Approve releases a milestone immediately on explicit client consent,
// short-circuiting any open dispute window.
func (e *Engine) Approve(id [32]byte, caller [20]byte, index uint32) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client {
		return ErrUnauthorized
	}
	if err := esc.assertActive(); err != nil {
		return err
	}
	return e.releaseMilestone(esc, index, false)
}

// AutoRelease finalizes a milestone payout once its dispute window has
// elapsed. Deliberately unauthenticated: any party may trigger it, and the
// first successful call transitions the milestone out of PendingRelease so
// later attempts fail with ErrMilestoneNotPendingRelease.
func (e *Engine) AutoRelease(id [32]byte, index uint32) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if err := esc.assertActive(); err != nil {
		return err
	}
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return err
	}
	if m.Status != MilestonePendingRelease {
		return ErrMilestoneNotPendingRelease
	}
	if esc.DisputeWindow == 0 {
		return ErrManualApprovalRequired
	}
	if m.CompletedAt == 0 {
		return ErrMilestoneNotCompleted
	}
	closed, err := windowClosed(m.CompletedAt, esc.DisputeWindow, e.now())
	if err != nil {
		return err
	}
	if !closed {
		return ErrDisputeWindowOpen
	}
	return e.releaseMilestone(esc, index, true)
}

// Dispute freezes a milestone inside its dispute window. Client only; no
// release is possible until the backend arbitrates.
func (e *Engine) Dispute(id [32]byte, caller [20]byte, index uint32, reason string) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client {
		return ErrUnauthorized
	}
	if err := esc.assertActive(); err != nil {
		return err
	}
	if esc.DisputeWindow == 0 {
		return ErrNoDisputeWindow
	}
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return err
	}
	if m.Status != MilestonePendingRelease {
		return ErrMilestoneNotPendingRelease
	}
	if m.CompletedAt == 0 {
		return ErrMilestoneNotCompleted
	}
	now := e.now()
	closed, err := windowClosed(m.CompletedAt, esc.DisputeWindow, now)
	if err != nil {
		return err
	}
	if closed {
		return ErrDisputeWindowClosed
	}
	m.Status = MilestoneDisputed
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputeOpenedEvent(esc, index, reason, now))
	return nil
}

// ResolveDispute settles a disputed milestone by the backend's binding
// decision. Developer wins: the milestone re-enters PendingRelease and the
// standard release path runs. Client wins: the milestone's full share of the
// deposit is refunded without the platform fee and marked Refunded; the
// refunded value still counts toward ReleasedAmount so it can never be
// released again.
func (e *Engine) ResolveDispute(id [32]byte, caller [20]byte, index uint32, releaseToDeveloper bool) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Backend {
		return ErrUnauthorized
	}
	if err := esc.assertActive(); err != nil {
		return err
	}
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return err
	}
	if m.Status != MilestoneDisputed {
		return ErrMilestoneNotDisputed
	}
	if releaseToDeveloper {
		m.Status = MilestonePendingRelease
		if err := e.releaseMilestone(esc, index, false); err != nil {
			return err
		}
		amount := MilestoneAmount(esc.TotalAmount, m.Bps)
		developerAmount := new(big.Int).Sub(amount, ReleaseFee(amount))
		e.emit(NewDisputeResolvedEvent(esc, index, esc.Developer, developerAmount, "release"))
		return nil
	}
	refund := MilestoneAmount(esc.TotalAmount, m.Bps)
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	if err := e.transferToken(vault, esc.Client, esc.Token, refund); err != nil {
		return err
	}
	m.Status = MilestoneRefunded
	esc.ReleasedAmount = new(big.Int).Add(esc.ReleasedAmount, refund)
	e.checkCompletion(esc)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(esc, index, esc.Client, refund, "refund"))
	if esc.Status == StatusCompleted {
		e.emit(NewCompletedEvent(esc))
	}
	return nil
}

// Cancel terminates the agreement and refunds the unreleased remainder to the
// client. Blocked while any milestone is PendingRelease or Disputed, so the
// client cannot dodge an in-flight approval by cancelling.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != esc.Client {
		return ErrUnauthorized
	}
	if err := esc.assertActive(); err != nil {
		return err
	}
	for _, m := range esc.Milestones {
		if m == nil {
			continue
		}
		switch m.Status {
		case MilestonePendingRelease, MilestoneDisputed:
			return ErrCannotCancelWithPendingMilestones
		}
	}
	remaining := new(big.Int).Sub(esc.TotalAmount, esc.ReleasedAmount)
	if remaining.Sign() < 0 {
		return ErrOverflow
	}
	if remaining.Sign() > 0 {
		vault, err := e.state.EscrowVaultAddress(esc.Token)
		if err != nil {
			return err
		}
		if err := e.transferToken(vault, esc.Client, esc.Token, remaining); err != nil {
			return err
		}
	}
	esc.Status = StatusCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc, remaining))
	return nil
}

// releaseMilestone is the shared payout path for Approve, AutoRelease and a
// dispute resolved in the developer's favour. The milestone must be
// PendingRelease. The vault is checked to cover the full share before either
// leg moves, so the fee leg cannot fail after the developer leg succeeded.
func (e *Engine) releaseMilestone(esc *Escrow, index uint32, auto bool) error {
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return err
	}
	if m.Status != MilestonePendingRelease {
		return ErrMilestoneNotPendingRelease
	}
	amount := MilestoneAmount(esc.TotalAmount, m.Bps)
	fee := ReleaseFee(amount)
	developerAmount := new(big.Int).Sub(amount, fee)
	vault, err := e.state.EscrowVaultAddress(esc.Token)
	if err != nil {
		return err
	}
	vaultAcc, err := e.state.GetAccount(vault[:])
	if err != nil {
		return err
	}
	if ensureAccount(vaultAcc).Balance(esc.Token).Cmp(amount) < 0 {
		return fmt.Errorf("%w: vault %s", ErrInsufficientBalance, esc.Token)
	}
	if err := e.transferToken(vault, esc.Developer, esc.Token, developerAmount); err != nil {
		return err
	}
	if err := e.transferToken(vault, esc.Backend, esc.Token, fee); err != nil {
		return err
	}
	m.Status = MilestoneReleased
	esc.ReleasedAmount = new(big.Int).Add(esc.ReleasedAmount, amount)
	e.checkCompletion(esc)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewFundsReleasedEvent(esc, index, developerAmount, auto))
	if esc.Status == StatusCompleted {
		e.emit(NewCompletedEvent(esc))
	}
	return nil
}

// checkCompletion flips the agreement to Completed once every milestone is
// terminal. Re-invoking it on a completed agreement is a no-op; the linear
// scan is bounded by MaxMilestones and stays the single source of truth
// rather than an incremental counter.
func (e *Engine) checkCompletion(esc *Escrow) {
	if esc == nil || esc.Status != StatusActive {
		return
	}
	for _, m := range esc.Milestones {
		if m == nil || !m.Status.Terminal() {
			return
		}
	}
	esc.Status = StatusCompleted
}

// Get returns a defensive copy of the agreement.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// Milestones returns copies of the full ordered milestone sequence.
func (e *Engine) Milestones(id [32]byte) ([]*Milestone, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	out := make([]*Milestone, len(esc.Milestones))
	for i, m := range esc.Milestones {
		out[i] = m.Clone()
	}
	return out, nil
}

// Milestone returns a copy of a single milestone by index.
func (e *Engine) Milestone(id [32]byte, index uint32) (*Milestone, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// Status returns the escrow-level status.
func (e *Engine) Status(id [32]byte) (EscrowStatus, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	return esc.Status, nil
}

// Balance returns the (total, released, remaining) triple.
func (e *Engine) Balance(id [32]byte) (total, released, remaining *big.Int, err error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, nil, nil, err
	}
	total = new(big.Int).Set(esc.TotalAmount)
	released = new(big.Int).Set(esc.ReleasedAmount)
	remaining = new(big.Int).Sub(total, released)
	return total, released, remaining, nil
}

// TimeUntilAutoRelease returns the seconds remaining until a milestone
// becomes eligible for auto-release, or 0 when no window applies.
func (e *Engine) TimeUntilAutoRelease(id [32]byte, index uint32) (uint64, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return 0, err
	}
	m, err := esc.MilestoneAt(index)
	if err != nil {
		return 0, err
	}
	return remainingWindow(m, esc.DisputeWindow, e.now())
}
