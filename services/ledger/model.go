package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ErrConsistencyViolation marks a debit that found less balance than it
// needed. The debit is clamped at zero and the anomaly is reported, never
// returned to callers.
var ErrConsistencyViolation = errors.New("ledger consistency violation")

const GenesisHash = "GENESIS"

type EntryType string

const (
	EntryTypeCredit EntryType = "CREDIT"
	EntryTypeDebit  EntryType = "DEBIT"
)

type Reason string

const (
	ReasonActionVerified   Reason = "action_verified"
	ReasonActionDeleted    Reason = "action_deleted"
	ReasonLeaderboardBonus Reason = "leaderboard_bonus"
)

// LedgerEntry is one applied balance mutation. Entries of a user form a hash
// chain ordered by Sequence.
type LedgerEntry struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	UserID       string         `gorm:"column:user_id;uniqueIndex:idx_ledger_user_seq,priority:1" json:"user_id"`
	Sequence     int64          `gorm:"column:sequence;uniqueIndex:idx_ledger_user_seq,priority:2" json:"sequence"`
	Type         EntryType      `gorm:"column:type;size:8" json:"type"`
	Amount       int64          `gorm:"column:amount" json:"amount"`
	Reason       Reason         `gorm:"column:reason;size:32" json:"reason"`
	ReferenceID  string         `gorm:"column:reference_id;index" json:"reference_id"`
	Description  string         `gorm:"column:description" json:"description"`
	BalanceAfter int64          `gorm:"column:balance_after" json:"balance_after"`
	PreviousHash string         `gorm:"column:previous_hash" json:"previous_hash"`
	Hash         string         `gorm:"column:hash" json:"hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            m.ID,
		"user_id":       m.UserID,
		"sequence":      fmt.Sprintf("%d", m.Sequence),
		"type":          string(m.Type),
		"amount":        fmt.Sprintf("%d", m.Amount),
		"reason":        string(m.Reason),
		"reference_id":  m.ReferenceID,
		"balance_after": fmt.Sprintf("%d", m.BalanceAfter),
		"created_at":    m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Entry is a requested mutation.
type Entry struct {
	UserID      string
	Amount      int64
	Reason      Reason
	ReferenceID string
	Description string
	Metadata    map[string]any
}

// Result describes what was actually applied. Applied differs from the
// requested amount only when a debit was clamped.
type Result struct {
	EntryID string `json:"entry_id"`
	Applied int64  `json:"applied"`
	Balance int64  `json:"balance"`
	Clamped bool   `json:"clamped"`
}

type Balance struct {
	UserID    string    `json:"user_id"`
	Points    int64     `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ChainReport struct {
	UserID   string `json:"user_id"`
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"broken_at,omitempty"`
}

type Reconciliation struct {
	UserID     string `json:"user_id"`
	Stored     int64  `json:"stored"`
	Computed   int64  `json:"computed"`
	Drift      int64  `json:"drift"`
	Consistent bool   `json:"consistent"`
}
