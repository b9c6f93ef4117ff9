package ledger

import (
	fpmath "TroveLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypeBurn
	JournalTypeTransfer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry. A mint credits the
// external issuer, a burn debits it.
type Journal struct {
	JournalID     uuid.UUID      // Unique identifier
	BatchID       uuid.UUID      // Groups entries of one command
	EventRef      string         // Idempotency key of the source command
	Sequence      int64          // Global event sequence
	DebitAccount  AccountKey     // Account receiving debit (balance increases)
	CreditAccount AccountKey     // Account receiving credit (balance decreases)
	AssetID       AssetID        // Asset being transferred
	Amount        fpmath.Decimal // Always positive
	JournalType   JournalType    // Entry type
	Timestamp     int64          // Command timestamp (epoch microseconds)
}

// Batch represents the journal entries of one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Every entry is a balanced transfer
// by construction: one positive amount moves from credit to debit.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}

		if j.DebitAccount.IsExternal() && j.CreditAccount.IsExternal() {
			return fmt.Errorf("journal %s moves between external accounts", j.JournalID)
		}
	}

	return nil
}
