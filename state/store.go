package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"streampay/core/types"
	"streampay/native/escrow"
	"streampay/storage"
)

const (
	escrowPrefix  = "escrow/"
	accountPrefix = "account/"
	vaultSalt     = "streampay/vault/"
)

// Store is the durable-state collaborator for the escrow engine: typed
// get/set of escrow records and token accounts over a key-value Database.
// Records are JSON-encoded with hex addresses and decimal amounts so the
// persisted form stays inspectable.
type Store struct {
	db storage.Database
}

// NewStore wraps a Database in a typed escrow store.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type milestoneRecord struct {
	Title          string `json:"title"`
	TriggerKeyword string `json:"triggerKeyword"`
	Bps            uint32 `json:"bps"`
	Status         uint8  `json:"status"`
	PRURL          string `json:"prUrl,omitempty"`
	CompletedAt    int64  `json:"completedAt,omitempty"`
}

type escrowRecord struct {
	ID             string            `json:"id"`
	Client         string            `json:"client"`
	Developer      string            `json:"developer"`
	Backend        string            `json:"backend"`
	Token          string            `json:"token"`
	TotalAmount    string            `json:"totalAmount"`
	ReleasedAmount string            `json:"releasedAmount"`
	DisputeWindow  uint64            `json:"disputeWindow"`
	CreatedAt      int64             `json:"createdAt"`
	Status         uint8             `json:"status"`
	Milestones     []milestoneRecord `json:"milestones"`
}

func escrowKey(id [32]byte) []byte {
	return []byte(escrowPrefix + hex.EncodeToString(id[:]))
}

func accountKey(addr []byte) []byte {
	return []byte(accountPrefix + hex.EncodeToString(addr))
}

// EscrowPut validates and persists an escrow record. The record is sanitized
// first so a malformed agreement never reaches disk.
func (s *Store) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	record := escrowRecord{
		ID:             hex.EncodeToString(sanitized.ID[:]),
		Client:         hex.EncodeToString(sanitized.Client[:]),
		Developer:      hex.EncodeToString(sanitized.Developer[:]),
		Backend:        hex.EncodeToString(sanitized.Backend[:]),
		Token:          sanitized.Token,
		TotalAmount:    sanitized.TotalAmount.String(),
		ReleasedAmount: sanitized.ReleasedAmount.String(),
		DisputeWindow:  sanitized.DisputeWindow,
		CreatedAt:      sanitized.CreatedAt,
		Status:         uint8(sanitized.Status),
		Milestones:     make([]milestoneRecord, len(sanitized.Milestones)),
	}
	for i, m := range sanitized.Milestones {
		record.Milestones[i] = milestoneRecord{
			Title:          m.Title,
			TriggerKeyword: m.TriggerKeyword,
			Bps:            m.Bps,
			Status:         uint8(m.Status),
			PRURL:          m.PRURL,
			CompletedAt:    m.CompletedAt,
		}
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state: encode escrow: %w", err)
	}
	return s.db.Put(escrowKey(sanitized.ID), encoded)
}

// EscrowGet loads an escrow record by ID. A missing key reads as
// not-initialized (ok == false).
func (s *Store) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	raw, err := s.db.Get(escrowKey(id))
	if err != nil {
		return nil, false
	}
	var record escrowRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false
	}
	decoded, err := record.decode()
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func (r escrowRecord) decode() (*escrow.Escrow, error) {
	e := &escrow.Escrow{
		Token:         r.Token,
		DisputeWindow: r.DisputeWindow,
		CreatedAt:     r.CreatedAt,
		Status:        escrow.EscrowStatus(r.Status),
	}
	if err := decodeFixed(r.ID, e.ID[:]); err != nil {
		return nil, fmt.Errorf("state: decode escrow id: %w", err)
	}
	if err := decodeFixed(r.Client, e.Client[:]); err != nil {
		return nil, fmt.Errorf("state: decode client: %w", err)
	}
	if err := decodeFixed(r.Developer, e.Developer[:]); err != nil {
		return nil, fmt.Errorf("state: decode developer: %w", err)
	}
	if err := decodeFixed(r.Backend, e.Backend[:]); err != nil {
		return nil, fmt.Errorf("state: decode backend: %w", err)
	}
	var err error
	if e.TotalAmount, err = parseAmount(r.TotalAmount); err != nil {
		return nil, err
	}
	if e.ReleasedAmount, err = parseAmount(r.ReleasedAmount); err != nil {
		return nil, err
	}
	e.Milestones = make([]*escrow.Milestone, len(r.Milestones))
	for i, m := range r.Milestones {
		e.Milestones[i] = &escrow.Milestone{
			Title:          m.Title,
			TriggerKeyword: m.TriggerKeyword,
			Bps:            m.Bps,
			Status:         escrow.MilestoneStatus(m.Status),
			PRURL:          m.PRURL,
			CompletedAt:    m.CompletedAt,
		}
	}
	return e, nil
}

func decodeFixed(value string, dst []byte) error {
	raw, err := hex.DecodeString(value)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("unexpected length %d", len(raw))
	}
	copy(dst, raw)
	return nil
}

func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("state: invalid amount %q", value)
	}
	return amount, nil
}

// GetAccount loads the account for an address, returning a fresh empty
// account when none has been persisted yet.
func (s *Store) GetAccount(addr []byte) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &types.Account{Balances: make(map[string]*big.Int)}, nil
	}
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	if account.Balances == nil {
		account.Balances = make(map[string]*big.Int)
	}
	return account, nil
}

// PutAccount persists an account.
func (s *Store) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	encoded, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return s.db.Put(accountKey(addr), encoded)
}

// EscrowVaultAddress derives the custody address that holds escrowed funds
// for a token. The address is a hash image with no known private key, so the
// engine is the only thing that can move vault balances.
func (s *Store) EscrowVaultAddress(token string) ([20]byte, error) {
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return [20]byte{}, err
	}
	digest := ethcrypto.Keccak256([]byte(vaultSalt), []byte(normalized))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}
