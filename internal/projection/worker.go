package projection

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionOutput is the part of an applied command the read models need.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	Timestamp      time.Time
	JournalEntries []JournalEntry
	Events         []event.Event
}

// JournalEntry is a journal reduced to what the balance projection needs.
// Amount is the raw 18-decimal integer as text.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
}

// NewProjectionOutput builds the projection input of one applied command.
func NewProjectionOutput(env *event.EventEnvelope, batch *ledger.Batch, events []event.Event) ProjectionOutput {
	out := ProjectionOutput{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Timestamp: env.Timestamp,
		Events:    events,
	}
	if batch != nil {
		for _, j := range batch.Journals {
			out.JournalEntries = append(out.JournalEntries, JournalEntry{
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount.RawString(),
			})
		}
	}
	return out
}

// ProjectionWorker updates the projections schema from applied commands.
// The projection channel drops on overflow; projections are eventually
// consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.apply(ctx, Plan(output)); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("projection").Inc()
				}
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the last sequence the worker handled.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

func (pw *ProjectionWorker) apply(ctx context.Context, stmts []Statement) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.Query, s.Args...); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return tx.Commit()
}

// RebuildProjections truncates every projection table and replays the event
// log into them.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.redemption_history`,
		`TRUNCATE projections.sp_deposits`,
		`TRUNCATE projections.fee_stakes`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Balances come straight from the journal: debits add, credits subtract.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence) FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	pw := &ProjectionWorker{db: db, logger: logger}
	const batchSize = 1000
	from := int64(0)
	replayed := 0
	for {
		rows, err := db.QueryContext(ctx, `
			SELECT sequence, event_type, events, timestamp
			FROM event_log.events
			WHERE sequence >= $1
			ORDER BY sequence ASC
			LIMIT $2
		`, from, batchSize)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}

		var outputs []ProjectionOutput
		for rows.Next() {
			var out ProjectionOutput
			var raw []byte
			if err := rows.Scan(&out.Sequence, &out.EventType, &raw, &out.Timestamp); err != nil {
				rows.Close()
				return err
			}
			if out.Events, err = event.DecodeEvents(raw); err != nil {
				rows.Close()
				return fmt.Errorf("sequence %d: %w", out.Sequence, err)
			}
			outputs = append(outputs, out)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(outputs) == 0 {
			break
		}

		for _, out := range outputs {
			if err := pw.apply(ctx, Plan(out)); err != nil {
				return fmt.Errorf("replay sequence %d: %w", out.Sequence, err)
			}
		}
		replayed += len(outputs)
		from = outputs[len(outputs)-1].Sequence + 1
	}

	logger.Info().Int("events", replayed).Msg("projection rebuild complete")
	return nil
}
