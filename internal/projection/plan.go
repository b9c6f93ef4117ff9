package projection

import (
	"TroveLedger/internal/event"
)

// Statement is one SQL write of a projection update.
type Statement struct {
	Name  string
	Query string
	Args  []interface{}
}

// Position status labels stored in projections.positions.
const (
	StatusActive              = "active"
	StatusClosedByOwner       = "closed_by_owner"
	StatusClosedByLiquidation = "closed_by_liquidation"
	StatusClosedByRedemption  = "closed_by_redemption"
)

// Plan turns one applied command into its projection writes, ending with the
// watermark update. It performs no I/O.
func Plan(out ProjectionOutput) []Statement {
	stmts := make([]Statement, 0, 2*len(out.JournalEntries)+len(out.Events)+1)

	for _, j := range out.JournalEntries {
		stmts = append(stmts,
			balanceDelta(j.DebitAccount, j.AssetID, j.Amount, out.Sequence),
			balanceDelta(j.CreditAccount, j.AssetID, "-"+j.Amount, out.Sequence),
		)
	}

	for _, e := range out.Events {
		switch e := e.(type) {
		case *event.PositionUpdated:
			stmts = append(stmts, Statement{
				Name: "position",
				Query: `INSERT INTO projections.positions (position_id, debt, collateral, stake, status, last_operation, last_sequence, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
					ON CONFLICT (position_id) DO UPDATE SET debt = $2, collateral = $3, stake = $4,
						status = $5, last_operation = $6, last_sequence = $7, updated_at = $8`,
				Args: []interface{}{
					e.Position.String(), e.Debt.RawString(), e.Collateral.RawString(), e.Stake.RawString(),
					statusForOperation(e.Operation), e.Operation, out.Sequence, out.Timestamp,
				},
			})

		case *event.PositionLiquidated:
			stmts = append(stmts,
				Statement{
					Name: "position_liquidated",
					Query: `UPDATE projections.positions SET debt = 0, collateral = 0, stake = 0, status = $2,
						last_operation = 'liquidate', last_sequence = $3, updated_at = $4
						WHERE position_id = $1`,
					Args: []interface{}{e.Position.String(), StatusClosedByLiquidation, out.Sequence, out.Timestamp},
				},
				Statement{
					Name: "liquidation_history",
					Query: `INSERT INTO projections.liquidation_history
						(sequence, position_id, mode, debt, collateral, debt_offset, coll_to_sp,
						 debt_redistributed, coll_redistributed, coll_gas_comp, coll_surplus, liquidated_at)
						VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
						ON CONFLICT (sequence, position_id) DO NOTHING`,
					Args: []interface{}{
						out.Sequence, e.Position.String(), e.Mode, e.Debt.RawString(), e.Collateral.RawString(),
						e.DebtOffset.RawString(), e.CollToSP.RawString(), e.DebtRedistributed.RawString(),
						e.CollRedistributed.RawString(), e.CollGasComp.RawString(), e.CollSurplus.RawString(),
						out.Timestamp,
					},
				},
			)

		case *event.Redemption:
			stmts = append(stmts, Statement{
				Name: "redemption_history",
				Query: `INSERT INTO projections.redemption_history
					(sequence, redeemer, attempted, actual, coll_sent, coll_fee, redeemed_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					ON CONFLICT (sequence) DO NOTHING`,
				Args: []interface{}{
					out.Sequence, e.Redeemer.String(), e.Attempted.RawString(), e.Actual.RawString(),
					e.CollSent.RawString(), e.CollFee.RawString(), out.Timestamp,
				},
			})

		case *event.DepositChanged:
			stmts = append(stmts, Statement{
				Name: "sp_deposit",
				Query: `INSERT INTO projections.sp_deposits (depositor, deposit, last_sequence, updated_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (depositor) DO UPDATE SET deposit = $2, last_sequence = $3, updated_at = $4`,
				Args: []interface{}{e.Depositor.String(), e.NewDeposit.RawString(), out.Sequence, out.Timestamp},
			})

		case *event.StakeChanged:
			stmts = append(stmts, Statement{
				Name: "fee_stake",
				Query: `INSERT INTO projections.fee_stakes (staker, stake, last_sequence, updated_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (staker) DO UPDATE SET stake = $2, last_sequence = $3, updated_at = $4`,
				Args: []interface{}{e.Staker.String(), e.NewStake.RawString(), out.Sequence, out.Timestamp},
			})
		}
	}

	stmts = append(stmts, Statement{
		Name: "watermark",
		Query: `INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()`,
		Args: []interface{}{out.Sequence},
	})
	return stmts
}

func balanceDelta(account string, asset uint16, delta string, seq int64) Statement {
	return Statement{
		Name: "balance",
		Query: `INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3::numeric, $4)
			ON CONFLICT (account_path, asset_id)
			DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4`,
		Args: []interface{}{account, asset, delta, seq},
	}
}

func statusForOperation(op string) string {
	switch op {
	case "close":
		return StatusClosedByOwner
	case "redeem_close":
		return StatusClosedByRedemption
	default:
		return StatusActive
	}
}
