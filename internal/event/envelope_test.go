package event_test

import (
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEncodeDecodeEvents(t *testing.T) {
	pos := uuid.New()
	in := []event.Event{
		&event.PositionUpdated{Position: pos, Debt: fpmath.FromUnits(510), Collateral: fpmath.FromUnits(10), Operation: "open"},
		&event.EpochUpdated{Epoch: 3},
		&event.BaseRateUpdated{BaseRate: fpmath.MustParse("0.0125")},
	}

	raw, err := event.EncodeEvents(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := event.DecodeEvents(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d events, want %d", len(out), len(in))
	}

	pu, ok := out[0].(*event.PositionUpdated)
	if !ok || pu.Position != pos || !pu.Debt.Eq(fpmath.FromUnits(510)) || pu.Operation != "open" {
		t.Errorf("position updated: got %+v", out[0])
	}
	if eu, ok := out[1].(*event.EpochUpdated); !ok || eu.Epoch != 3 {
		t.Errorf("epoch updated: got %+v", out[1])
	}
	if br, ok := out[2].(*event.BaseRateUpdated); !ok || !br.BaseRate.Eq(fpmath.MustParse("0.0125")) {
		t.Errorf("base rate: got %+v", out[2])
	}
}

func TestDecodeEvents_RejectsCommandsAndUnknownTypes(t *testing.T) {
	if _, err := event.DecodeEvents([]byte(`[{"type":"Redeem","data":{}}]`)); err == nil {
		t.Error("a command type is not a protocol event")
	}
	if _, err := event.DecodeEvents([]byte(`[{"type":"Nope","data":{}}]`)); err == nil {
		t.Error("unknown type should fail")
	}
}

func TestNewCommand_CoversEveryCommandType(t *testing.T) {
	var types []event.EventType
	for et := event.EventTypePriceUpdate; et <= event.EventTypeRedeem; et++ {
		types = append(types, et)
	}
	types = append(types, event.EventTypeStakeRewards, event.EventTypeUnstakeRewards)
	for _, et := range types {
		cmd := event.NewCommand(et)
		if cmd == nil {
			t.Errorf("%s: no command", et)
			continue
		}
		if cmd.EventType() != et {
			t.Errorf("%s: command reports %s", et, cmd.EventType())
		}
		if name := et.String(); name == "Unknown" {
			t.Errorf("%d has no name", et)
		} else if back, ok := event.ParseEventType(name); !ok || back != et {
			t.Errorf("ParseEventType(%q) = %v", name, back)
		}
	}
	for _, et := range []event.EventType{event.EventTypeLiquidation, event.EventTypeStakeChanged} {
		if event.NewCommand(et) != nil {
			t.Errorf("%s is a protocol event, not a command", et)
		}
	}
}

func TestDecodeCommand_RoundTripsPayload(t *testing.T) {
	in := &event.Redeem{
		Redeemer:         uuid.New(),
		Amount:           fpmath.MustParse("42.5"),
		PartialHintNICR:  fpmath.FromUnits(3),
		MaxIterations:    7,
		MaxFeePercentage: fpmath.One(),
	}
	in.Stamp(uuid.New(), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := event.DecodeCommand("Redeem", payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := cmd.(*event.Redeem)
	if !ok {
		t.Fatalf("expected *event.Redeem, got %T", cmd)
	}
	if out.IdempotencyKey() != in.IdempotencyKey() || !out.Time().Equal(in.Time()) {
		t.Errorf("header not restored: %+v", out.Header)
	}
	if out.Redeemer != in.Redeemer || !out.Amount.Eq(in.Amount) || out.MaxIterations != 7 {
		t.Errorf("fields not restored: %+v", out)
	}

	if _, err := event.DecodeCommand("EpochUpdated", payload); err == nil {
		t.Error("protocol events are not commands")
	}
}
