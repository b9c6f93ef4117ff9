package ingestion

import (
	"TroveLedger/internal/event"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownCommand  = errors.New("unknown command type")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidEncoding = errors.New("invalid command encoding")
)

// stampable is implemented by every command through its embedded header.
type stampable interface {
	event.Command
	Stamp(commandID uuid.UUID, ts time.Time)
}

// headerJSON is the envelope every inbound payload carries. Timestamps are
// microseconds since the Unix epoch, set by the producer; the engine never
// uses the arrival time.
type headerJSON struct {
	CommandID   string `json:"command_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParseRawEvent converts an inbound payload into a typed command. Decimal
// amounts are JSON strings in human form ("1.5"); ids are UUID strings.
func ParseRawEvent(raw RawEvent, commandType string) (event.Command, error) {
	et, ok := event.ParseEventType(commandType)
	if !ok {
		return nil, fmt.Errorf("%s: %w", commandType, ErrUnknownCommand)
	}
	cmd, ok := event.NewCommand(et).(stampable)
	if !ok {
		return nil, fmt.Errorf("%s: %w", commandType, ErrUnknownCommand)
	}

	var h headerJSON
	if err := json.Unmarshal(raw.Data, &h); err != nil {
		return nil, fmt.Errorf("parse %s header: %w: %v", commandType, ErrInvalidEncoding, err)
	}
	commandID, err := uuid.Parse(h.CommandID)
	if err != nil {
		return nil, fmt.Errorf("parse command_id: %w: %v", ErrInvalidEncoding, err)
	}
	if h.TimestampUs <= 0 {
		return nil, fmt.Errorf("timestamp_us: %w", ErrMissingField)
	}

	if err := json.Unmarshal(raw.Data, cmd); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %v", commandType, ErrInvalidEncoding, err)
	}
	cmd.Stamp(commandID, time.UnixMicro(h.TimestampUs).UTC())

	if err := validate(cmd); err != nil {
		return nil, fmt.Errorf("%s: %w", commandType, err)
	}
	return cmd, nil
}

// validate rejects payloads that are structurally incomplete. Protocol rules
// (ratios, balances, fees) are the engine's job.
func validate(cmd event.Command) error {
	switch c := cmd.(type) {
	case *event.PriceUpdate:
		return requireID("sequence", c.Sequence > 0)
	case *event.FundCollateral:
		return requireID("owner", c.Owner != uuid.Nil)
	case *event.TransferDebt:
		if err := requireID("from", c.From != uuid.Nil); err != nil {
			return err
		}
		return requireID("to", c.To != uuid.Nil)
	case *event.OpenPosition:
		return requireID("owner", c.Owner != uuid.Nil)
	case *event.AdjustPosition:
		return requireID("owner", c.Owner != uuid.Nil)
	case *event.ClosePosition:
		return requireID("owner", c.Owner != uuid.Nil)
	case *event.ClaimCollateralSurplus:
		return requireID("owner", c.Owner != uuid.Nil)
	case *event.RegisterFrontEnd:
		return requireID("front_end", c.FrontEnd != uuid.Nil)
	case *event.ProvideToSP:
		return requireID("depositor", c.Depositor != uuid.Nil)
	case *event.WithdrawFromSP:
		return requireID("depositor", c.Depositor != uuid.Nil)
	case *event.WithdrawCollateralGainToPosition:
		return requireID("depositor", c.Depositor != uuid.Nil)
	case *event.Liquidate:
		if err := requireID("liquidator", c.Liquidator != uuid.Nil); err != nil {
			return err
		}
		return requireID("position", c.Position != uuid.Nil)
	case *event.LiquidatePositions:
		return requireID("liquidator", c.Liquidator != uuid.Nil)
	case *event.BatchLiquidate:
		return requireID("liquidator", c.Liquidator != uuid.Nil)
	case *event.Redeem:
		return requireID("redeemer", c.Redeemer != uuid.Nil)
	case *event.StakeRewards:
		return requireID("staker", c.Staker != uuid.Nil)
	case *event.UnstakeRewards:
		return requireID("staker", c.Staker != uuid.Nil)
	}
	return nil
}

func requireID(field string, ok bool) error {
	if !ok {
		return fmt.Errorf("%s: %w", field, ErrMissingField)
	}
	return nil
}
