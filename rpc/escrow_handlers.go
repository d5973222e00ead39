package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"streampay/native/escrow"
)

// Escrow-specific JSON-RPC error codes. Taxonomy failures carry
// codeEscrowBase minus the original numeric code, so clients can match on a
// stable integer instead of parsing messages.
const (
	codeEscrowBase         = -32100
	codeEscrowForbidden    = -32003
	codeEscrowInsufficient = -32004
	codeEscrowInternal     = -32005
)

type initializeParams struct {
	Caller        string                 `json:"caller"`
	Client        string                 `json:"client"`
	Developer     string                 `json:"developer"`
	Backend       string                 `json:"backend"`
	Token         string                 `json:"token"`
	TotalAmount   string                 `json:"totalAmount"`
	Milestones    []milestoneDefinitionP `json:"milestones"`
	DisputeWindow uint64                 `json:"disputeWindow"`
	Salt          string                 `json:"salt,omitempty"`
}

type milestoneDefinitionP struct {
	Title          string `json:"title"`
	TriggerKeyword string `json:"triggerKeyword,omitempty"`
	Bps            uint32 `json:"bps"`
}

type markCompleteParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Index  uint32 `json:"index"`
	PRURL  string `json:"prUrl"`
}

type milestoneActionParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Index  uint32 `json:"index"`
}

type autoReleaseParams struct {
	ID    string `json:"id"`
	Index uint32 `json:"index"`
}

type disputeParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Index  uint32 `json:"index"`
	Reason string `json:"reason,omitempty"`
}

type resolveDisputeParams struct {
	ID      string `json:"id"`
	Caller  string `json:"caller"`
	Index   uint32 `json:"index"`
	Outcome string `json:"outcome"`
}

type cancelParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type milestoneIndexParams struct {
	ID    string `json:"id"`
	Index uint32 `json:"index"`
}

type escrowJSON struct {
	ID             string          `json:"id"`
	Client         string          `json:"client"`
	Developer      string          `json:"developer"`
	Backend        string          `json:"backend"`
	Token          string          `json:"token"`
	TotalAmount    string          `json:"totalAmount"`
	ReleasedAmount string          `json:"releasedAmount"`
	DisputeWindow  uint64          `json:"disputeWindow"`
	CreatedAt      int64           `json:"createdAt"`
	Status         string          `json:"status"`
	Milestones     []milestoneJSON `json:"milestones"`
}

type milestoneJSON struct {
	Index          uint32 `json:"index"`
	Title          string `json:"title"`
	TriggerKeyword string `json:"triggerKeyword,omitempty"`
	Bps            uint32 `json:"bps"`
	Status         string `json:"status"`
	PRURL          string `json:"prUrl,omitempty"`
	CompletedAt    int64  `json:"completedAt,omitempty"`
}

type balanceJSON struct {
	Total     string `json:"total"`
	Released  string `json:"released"`
	Remaining string `json:"remaining"`
}

func (s *Server) handleEscrowInitialize(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params initializeParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "caller: "+err.Error())
		return
	}
	client, err := parseAddress(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "client: "+err.Error())
		return
	}
	developer, err := parseAddress(params.Developer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "developer: "+err.Error())
		return
	}
	backend, err := parseAddress(params.Backend)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "backend: "+err.Error())
		return
	}
	total, err := parseAmount(params.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "totalAmount: "+err.Error())
		return
	}
	salt, err := parseSalt(params.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "salt: "+err.Error())
		return
	}
	definitions := make([]escrow.MilestoneDefinition, len(params.Milestones))
	for i, def := range params.Milestones {
		definitions[i] = escrow.MilestoneDefinition{
			Title:          def.Title,
			TriggerKeyword: def.TriggerKeyword,
			Bps:            def.Bps,
		}
	}
	created, err := s.engine.Initialize(caller, escrow.InitParams{
		Client:        client,
		Developer:     developer,
		Backend:       backend,
		Token:         params.Token,
		TotalAmount:   total,
		Milestones:    definitions,
		DisputeWindow: params.DisputeWindow,
		Salt:          salt,
	})
	s.observe("escrow_initialize", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(created))
}

func (s *Server) handleEscrowMarkComplete(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params markCompleteParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, caller, ok := parseIDAndCaller(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	if strings.TrimSpace(params.PRURL) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "prUrl required")
		return
	}
	err := s.engine.MarkComplete(id, caller, params.Index, params.PRURL)
	s.observe("escrow_markComplete", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "marked"})
}

func (s *Server) handleEscrowApprove(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params milestoneActionParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, caller, ok := parseIDAndCaller(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	err := s.engine.Approve(id, caller, params.Index)
	s.observe("escrow_approve", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "released"})
}

func (s *Server) handleEscrowAutoRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params autoReleaseParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.engine.AutoRelease(id, params.Index)
	s.observe("escrow_autoRelease", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "released"})
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params disputeParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, caller, ok := parseIDAndCaller(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	err := s.engine.Dispute(id, caller, params.Index, params.Reason)
	s.observe("escrow_dispute", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "disputed"})
}

func (s *Server) handleEscrowResolveDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params resolveDisputeParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, caller, ok := parseIDAndCaller(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	var releaseToDeveloper bool
	switch strings.ToLower(strings.TrimSpace(params.Outcome)) {
	case "release":
		releaseToDeveloper = true
	case "refund":
		releaseToDeveloper = false
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "outcome must be release or refund")
		return
	}
	err := s.engine.ResolveDispute(id, caller, params.Index, releaseToDeveloper)
	s.observe("escrow_resolveDispute", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "resolved", "outcome": strings.ToLower(strings.TrimSpace(params.Outcome))})
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params cancelParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, caller, ok := parseIDAndCaller(w, req, params.ID, params.Caller)
	if !ok {
		return
	}
	err := s.engine.Cancel(id, caller)
	s.observe("escrow_cancel", err)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": "cancelled"})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.engine.Get(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowGetMilestones(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	milestones, err := s.engine.Milestones(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]milestoneJSON, len(milestones))
	for i, m := range milestones {
		out[i] = formatMilestoneJSON(uint32(i), m)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowGetMilestone(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params milestoneIndexParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	m, err := s.engine.Milestone(id, params.Index)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatMilestoneJSON(params.Index, m))
}

func (s *Server) handleEscrowGetStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := s.engine.Status(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"status": status.String()})
}

func (s *Server) handleEscrowGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	total, released, remaining, err := s.engine.Balance(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balanceJSON{
		Total:     total.String(),
		Released:  released.String(),
		Remaining: remaining.String(),
	})
}

func (s *Server) handleEscrowTimeUntilAutoRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params milestoneIndexParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	remaining, err := s.engine.TimeUntilAutoRelease(id, params.Index)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"seconds": remaining})
}

func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, dst interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return false
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return false
	}
	return true
}

func parseIDAndCaller(w http.ResponseWriter, req *RPCRequest, rawID, rawCaller string) ([32]byte, [20]byte, bool) {
	id, err := parseEscrowID(rawID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return id, [20]byte{}, false
	}
	caller, err := parseAddress(rawCaller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "caller: "+err.Error())
		return id, caller, false
	}
	return id, caller, true
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	cleaned := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	if len(cleaned) != 40 {
		return out, fmt.Errorf("address must be 20 bytes of hex")
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func parseEscrowID(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("id required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("id must be 32 bytes of hex")
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	return amount, nil
}

// parseSalt decodes an optional caller-supplied 32-byte salt. When omitted a
// random UUID seeds the salt, so repeated initializations of the same parties
// produce distinct agreements unless the caller pins the salt.
func parseSalt(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		id := uuid.New()
		copy(out[:], id[:])
		return out, nil
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("salt must be 32 bytes of hex")
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func formatEscrowID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAddressJSON(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:            formatEscrowID(esc.ID),
		Client:        formatAddressJSON(esc.Client),
		Developer:     formatAddressJSON(esc.Developer),
		Backend:       formatAddressJSON(esc.Backend),
		Token:         esc.Token,
		DisputeWindow: esc.DisputeWindow,
		CreatedAt:     esc.CreatedAt,
		Status:        esc.Status.String(),
		Milestones:    make([]milestoneJSON, len(esc.Milestones)),
	}
	out.TotalAmount = "0"
	if esc.TotalAmount != nil {
		out.TotalAmount = esc.TotalAmount.String()
	}
	out.ReleasedAmount = "0"
	if esc.ReleasedAmount != nil {
		out.ReleasedAmount = esc.ReleasedAmount.String()
	}
	for i, m := range esc.Milestones {
		out.Milestones[i] = formatMilestoneJSON(uint32(i), m)
	}
	return out
}

func formatMilestoneJSON(index uint32, m *escrow.Milestone) milestoneJSON {
	if m == nil {
		return milestoneJSON{Index: index}
	}
	return milestoneJSON{
		Index:          index,
		Title:          m.Title,
		TriggerKeyword: m.TriggerKeyword,
		Bps:            m.Bps,
		Status:         m.Status.String(),
		PRURL:          m.PRURL,
		CompletedAt:    m.CompletedAt,
	}
}

// escrowTaxonomy maps engine sentinels to the stable numeric taxonomy exposed
// on the wire and the HTTP status the failure maps to.
var escrowTaxonomy = []struct {
	err    error
	code   int
	status int
}{
	{escrow.ErrAlreadyInitialized, 1, http.StatusConflict},
	{escrow.ErrNotInitialized, 2, http.StatusNotFound},
	{escrow.ErrInvalidAmount, 10, http.StatusBadRequest},
	{escrow.ErrNoMilestones, 11, http.StatusBadRequest},
	{escrow.ErrTooManyMilestones, 12, http.StatusBadRequest},
	{escrow.ErrInvalidMilestoneBps, 13, http.StatusBadRequest},
	{escrow.ErrEscrowCompleted, 20, http.StatusConflict},
	{escrow.ErrEscrowCancelled, 21, http.StatusConflict},
	{escrow.ErrMilestoneNotFound, 30, http.StatusNotFound},
	{escrow.ErrMilestoneAlreadyCompleted, 31, http.StatusConflict},
	{escrow.ErrMilestoneNotPendingRelease, 32, http.StatusConflict},
	{escrow.ErrMilestoneNotCompleted, 33, http.StatusConflict},
	{escrow.ErrMilestoneNotDisputed, 34, http.StatusConflict},
	{escrow.ErrNoDisputeWindow, 40, http.StatusConflict},
	{escrow.ErrDisputeWindowOpen, 41, http.StatusConflict},
	{escrow.ErrDisputeWindowClosed, 42, http.StatusConflict},
	{escrow.ErrManualApprovalRequired, 50, http.StatusConflict},
	{escrow.ErrCannotCancelWithPendingMilestones, 51, http.StatusConflict},
	{escrow.ErrOverflow, 99, http.StatusConflict},
}

func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	for _, entry := range escrowTaxonomy {
		if errors.Is(err, entry.err) {
			writeError(w, entry.status, id, codeEscrowBase-entry.code, entry.err.Error(), err.Error())
			return
		}
	}
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrInvalidToken):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, escrow.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, id, codeEscrowInsufficient, "insufficient_balance", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeEscrowInternal, "internal_error", err.Error())
	}
}
