package query

import (
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrUnknownAsset = errors.New("unknown asset")

// QueryService provides read-only access to the projection tables and the
// event log. Live protocol state is read from the engine instead; these
// queries serve history and lag the engine by the projection watermark.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns an owner's projected wallet balance for asset.
func (qs *QueryService) GetBalance(ctx context.Context, owner uuid.UUID, asset string) (*BalanceResponse, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset, ErrUnknownAsset)
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.NewUserAccountKey(owner, assetID).AccountPath()
	var raw string
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, path, uint16(assetID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		raw = "0"
	} else if err != nil {
		return nil, err
	}

	balance, err := fpmath.FromRawString(raw)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", path, err)
	}
	return &BalanceResponse{Owner: owner, Asset: asset, Balance: balance, AsOfSequence: asOfSeq}, nil
}

// ListPositions returns projected positions with the given status, or all
// when status is empty, most recently changed first.
func (qs *QueryService) ListPositions(ctx context.Context, status string, page Page) ([]PositionRecord, error) {
	page = page.Normalize(100, 1000)

	query := `
		SELECT position_id, debt::text, collateral::text, stake::text, status, last_operation, last_sequence, updated_at
		FROM projections.positions
		WHERE ($1 = '' OR status = $1)
	`
	args := []interface{}{status}
	if page.Before > 0 {
		query += " AND last_sequence < $2 ORDER BY last_sequence DESC LIMIT $3"
		args = append(args, page.Before, page.Limit)
	} else {
		query += " ORDER BY last_sequence DESC LIMIT $2"
		args = append(args, page.Limit)
	}

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionRecord
	for rows.Next() {
		var p PositionRecord
		var debt, coll, stake string
		if err := rows.Scan(&p.PositionID, &debt, &coll, &stake, &p.Status, &p.LastOperation, &p.LastSequence, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := parseRaw(map[*fpmath.Decimal]string{&p.Debt: debt, &p.Collateral: coll, &p.Stake: stake}); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListLiquidations returns liquidation history, optionally for one position.
func (qs *QueryService) ListLiquidations(ctx context.Context, position uuid.UUID, page Page) ([]LiquidationRecord, error) {
	page = page.Normalize(50, 500)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, position_id, mode, debt::text, collateral::text, debt_offset::text, coll_to_sp::text,
		       debt_redistributed::text, coll_redistributed::text, coll_gas_comp::text, coll_surplus::text, liquidated_at
		FROM projections.liquidation_history
		WHERE ($1::uuid IS NULL OR position_id = $1::uuid)
		  AND ($2::bigint <= 0 OR sequence < $2::bigint)
		ORDER BY sequence DESC
		LIMIT $3
	`, nullableUUID(position), page.Before, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		var debt, coll, offset, toSP, debtRedist, collRedist, gas, surplus string
		if err := rows.Scan(&r.Sequence, &r.PositionID, &r.Mode, &debt, &coll, &offset, &toSP,
			&debtRedist, &collRedist, &gas, &surplus, &r.LiquidatedAt); err != nil {
			return nil, err
		}
		if err := parseRaw(map[*fpmath.Decimal]string{
			&r.Debt: debt, &r.Collateral: coll, &r.DebtOffset: offset, &r.CollToSP: toSP,
			&r.DebtRedistributed: debtRedist, &r.CollRedistributed: collRedist,
			&r.CollGasComp: gas, &r.CollSurplus: surplus,
		}); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRedemptions returns redemption history, optionally for one redeemer.
func (qs *QueryService) ListRedemptions(ctx context.Context, redeemer uuid.UUID, page Page) ([]RedemptionRecord, error) {
	page = page.Normalize(50, 500)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, redeemer, attempted::text, actual::text, coll_sent::text, coll_fee::text, redeemed_at
		FROM projections.redemption_history
		WHERE ($1::uuid IS NULL OR redeemer = $1::uuid)
		  AND ($2::bigint <= 0 OR sequence < $2::bigint)
		ORDER BY sequence DESC
		LIMIT $3
	`, nullableUUID(redeemer), page.Before, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RedemptionRecord
	for rows.Next() {
		var r RedemptionRecord
		var attempted, actual, sent, fee string
		if err := rows.Scan(&r.Sequence, &r.Redeemer, &attempted, &actual, &sent, &fee, &r.RedeemedAt); err != nil {
			return nil, err
		}
		if err := parseRaw(map[*fpmath.Decimal]string{
			&r.Attempted: attempted, &r.Actual: actual, &r.CollSent: sent, &r.CollFee: fee,
		}); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching an owner's wallets.
func (qs *QueryService) GetJournalHistory(ctx context.Context, owner uuid.UUID, page Page) ([]JournalHistoryEntry, error) {
	page = page.Normalize(100, 500)
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	rows, err := qs.db.QueryContext(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
		  AND ($2::bigint <= 0 OR sequence < $2::bigint)
		ORDER BY sequence DESC
		LIMIT $3
	`, accountPrefix, page.Before, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		var amount string
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = fpmath.FromRawString(amount); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain of the event log and that projected
// balances of every asset sum to zero (issuer accounts carry the negative
// side of every mint).
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseRaw(fields map[*fpmath.Decimal]string) error {
	for dst, raw := range fields {
		d, err := fpmath.FromRawString(raw)
		if err != nil {
			return fmt.Errorf("parse %q: %w", raw, err)
		}
		*dst = d
	}
	return nil
}
