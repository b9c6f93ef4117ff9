package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates inbound commands and the protocol events they emit.
type EventType int32

const (
	EventTypeUnknown EventType = iota

	// Commands
	EventTypePriceUpdate
	EventTypeFundCollateral
	EventTypeTransferDebt
	EventTypeOpenPosition
	EventTypeAdjustPosition
	EventTypeClosePosition
	EventTypeClaimCollateralSurplus
	EventTypeRegisterFrontEnd
	EventTypeProvideToSP
	EventTypeWithdrawFromSP
	EventTypeWithdrawCollateralGainToPosition
	EventTypeLiquidate
	EventTypeLiquidatePositions
	EventTypeBatchLiquidate
	EventTypeRedeem

	// Protocol events
	EventTypePositionUpdated
	EventTypePositionLiquidated
	EventTypeLiquidation
	EventTypeRedemption
	EventTypeDepositChanged
	EventTypeCollateralGainWithdrawn
	EventTypeRewardPaid
	EventTypeFrontEndRegistered
	EventTypeEpochUpdated
	EventTypeScaleUpdated
	EventTypeSumUpdated
	EventTypeRewardSumUpdated
	EventTypeProductUpdated
	EventTypeBaseRateUpdated
	EventTypeCollateralSurplusClaimed

	// Fee staking commands and events
	EventTypeStakeRewards
	EventTypeUnstakeRewards
	EventTypeStakeChanged
	EventTypeStakingGainsWithdrawn
	EventTypeFeeRewardsUpdated
)

var eventTypeNames = map[EventType]string{
	EventTypePriceUpdate:                      "PriceUpdate",
	EventTypeFundCollateral:                   "FundCollateral",
	EventTypeTransferDebt:                     "TransferDebt",
	EventTypeOpenPosition:                     "OpenPosition",
	EventTypeAdjustPosition:                   "AdjustPosition",
	EventTypeClosePosition:                    "ClosePosition",
	EventTypeClaimCollateralSurplus:           "ClaimCollateralSurplus",
	EventTypeRegisterFrontEnd:                 "RegisterFrontEnd",
	EventTypeProvideToSP:                      "ProvideToSP",
	EventTypeWithdrawFromSP:                   "WithdrawFromSP",
	EventTypeWithdrawCollateralGainToPosition: "WithdrawCollateralGainToPosition",
	EventTypeLiquidate:                        "Liquidate",
	EventTypeLiquidatePositions:               "LiquidatePositions",
	EventTypeBatchLiquidate:                   "BatchLiquidate",
	EventTypeRedeem:                           "Redeem",

	EventTypePositionUpdated:          "PositionUpdated",
	EventTypePositionLiquidated:       "PositionLiquidated",
	EventTypeLiquidation:              "Liquidation",
	EventTypeRedemption:               "Redemption",
	EventTypeDepositChanged:           "DepositChanged",
	EventTypeCollateralGainWithdrawn:  "CollateralGainWithdrawn",
	EventTypeRewardPaid:               "RewardPaid",
	EventTypeFrontEndRegistered:       "FrontEndRegistered",
	EventTypeEpochUpdated:             "EpochUpdated",
	EventTypeScaleUpdated:             "ScaleUpdated",
	EventTypeSumUpdated:               "SumUpdated",
	EventTypeRewardSumUpdated:         "RewardSumUpdated",
	EventTypeProductUpdated:           "ProductUpdated",
	EventTypeBaseRateUpdated:          "BaseRateUpdated",
	EventTypeCollateralSurplusClaimed: "CollateralSurplusClaimed",

	EventTypeStakeRewards:          "StakeRewards",
	EventTypeUnstakeRewards:        "UnstakeRewards",
	EventTypeStakeChanged:          "StakeChanged",
	EventTypeStakingGainsWithdrawn: "StakingGainsWithdrawn",
	EventTypeFeeRewardsUpdated:     "FeeRewardsUpdated",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) (EventType, bool) {
	for et, n := range eventTypeNames {
		if n == name {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// EventEnvelope wraps every applied command in the log.
type EventEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type
	EventType EventType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	// JSON-encoded protocol events emitted by the command
	Events []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface every inbound command implements.
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Time returns the versioned input timestamp; the engine never reads the wall clock.
	Time() time.Time
}

// Event is a protocol event emitted by the engine.
type Event interface {
	EventType() EventType
}

type namedEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvents serializes events as a JSON array of {type, data} objects.
func EncodeEvents(events []Event) ([]byte, error) {
	out := make([]namedEvent, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
		}
		out = append(out, namedEvent{Type: e.EventType().String(), Data: data})
	}
	return json.Marshal(out)
}

// DecodeEvents is the inverse of EncodeEvents.
func DecodeEvents(b []byte) ([]Event, error) {
	var raw []namedEvent
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		et, ok := ParseEventType(r.Type)
		if !ok {
			return nil, fmt.Errorf("decode events: unknown type %q", r.Type)
		}
		e := newProtocolEvent(et)
		if e == nil {
			return nil, fmt.Errorf("decode events: %s is not a protocol event", r.Type)
		}
		if err := json.Unmarshal(r.Data, e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.Type, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// DecodeCommand rebuilds a command from an envelope payload, as stored in the
// event log.
func DecodeCommand(eventType string, payload []byte) (Command, error) {
	et, ok := ParseEventType(eventType)
	if !ok {
		return nil, fmt.Errorf("decode command: unknown type %q", eventType)
	}
	cmd := NewCommand(et)
	if cmd == nil {
		return nil, fmt.Errorf("decode command: %s is not a command", eventType)
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return cmd, nil
}
