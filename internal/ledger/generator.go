package ledger

import (
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
)

// JournalGenerator collects the entries of the command being executed into one
// batch. The engine opens a batch per command and closes it on success.
type JournalGenerator struct {
	batch *Batch
}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// Begin starts a batch for the command identified by eventRef.
func (jg *JournalGenerator) Begin(eventRef string, sequence, timestamp int64) {
	jg.batch = &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// End returns the collected batch (nil if the command moved no tokens).
func (jg *JournalGenerator) End() *Batch {
	b := jg.batch
	jg.batch = nil
	if b == nil || len(b.Journals) == 0 {
		return nil
	}
	return b
}

// GenerateMint issues amount of asset to the debit account.
func (jg *JournalGenerator) GenerateMint(to AccountKey, amount fpmath.Decimal) *Batch {
	return jg.entry(to, NewExternalAccountKey(to.AssetID), amount, JournalTypeMint)
}

// GenerateBurn destroys amount of asset held by the credit account.
func (jg *JournalGenerator) GenerateBurn(from AccountKey, amount fpmath.Decimal) *Batch {
	return jg.entry(NewExternalAccountKey(from.AssetID), from, amount, JournalTypeBurn)
}

// GenerateTransfer moves amount between two tracked accounts.
func (jg *JournalGenerator) GenerateTransfer(from, to AccountKey, amount fpmath.Decimal) *Batch {
	return jg.entry(to, from, amount, JournalTypeTransfer)
}

// entry builds a single-journal batch and records the journal in the open
// command batch, if any.
func (jg *JournalGenerator) entry(debit, credit AccountKey, amount fpmath.Decimal, jt JournalType) *Batch {
	batchID := uuid.New()
	var eventRef string
	var sequence, timestamp int64
	if jg.batch != nil {
		batchID = jg.batch.BatchID
		eventRef = jg.batch.EventRef
		sequence = jg.batch.Sequence
		timestamp = jg.batch.Timestamp
	}

	j := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     timestamp,
	}

	return &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  []Journal{j},
	}
}

// record appends applied journals to the open command batch.
func (jg *JournalGenerator) record(b *Batch) {
	if jg.batch != nil {
		jg.batch.Journals = append(jg.batch.Journals, b.Journals...)
	}
}
