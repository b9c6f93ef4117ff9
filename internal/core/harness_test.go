package core_test

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
	"testing"
	"time"

	"github.com/google/uuid"
)

// --- Test helpers ---

var genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func units(n uint64) fpmath.Decimal { return fpmath.FromUnits(n) }

func dec(s string) fpmath.Decimal { return fpmath.MustParse(s) }

func raw(t *testing.T, s string) fpmath.Decimal {
	t.Helper()
	d, err := fpmath.FromRawString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// testParams keeps amounts small and fees and collateral gas compensation
// off so that expected values are exact.
func testParams() state.Params {
	p := state.DefaultParams()
	p.GasCompensation = units(10)
	p.MinNetDebt = units(90)
	p.PercentDivisor = 0
	p.BorrowingFeeFloor = fpmath.Zero()
	p.MaxSortedListSize = 100
	return p
}

type harness struct {
	t        *testing.T
	core     *core.DeterministicCore
	feed     *core.PriceFeed
	out      chan core.CoreOutput
	now      time.Time
	priceSeq int64
}

func newHarness(t *testing.T, p state.Params) *harness {
	t.Helper()
	feed := core.NewPriceFeed(units(100))
	out := make(chan core.CoreOutput, 1024)
	c, err := core.NewDeterministicCore(core.Config{
		Params:      p,
		Oracle:      feed,
		DeployedAt:  genesis,
		PersistChan: out,
	})
	if err != nil {
		t.Fatalf("NewDeterministicCore: %v", err)
	}
	return &harness{t: t, core: c, feed: feed, out: out, now: genesis}
}

func (h *harness) header() event.Header {
	h.now = h.now.Add(time.Second)
	return event.Header{CommandID: uuid.New(), Timestamp: h.now}
}

func (h *harness) apply(cmd event.Command) *core.CoreOutput {
	h.t.Helper()
	out, err := h.core.ProcessCommand(cmd)
	if err != nil {
		h.t.Fatalf("%s failed: %v", cmd.EventType(), err)
	}
	return out
}

func (h *harness) fund(owner uuid.UUID, coll fpmath.Decimal) {
	h.t.Helper()
	h.apply(&event.FundCollateral{Header: h.header(), Owner: owner, Amount: coll})
}

func (h *harness) openCmd(owner uuid.UUID, coll, debt fpmath.Decimal) *event.OpenPosition {
	return &event.OpenPosition{
		Header:           h.header(),
		Owner:            owner,
		Collateral:       coll,
		DebtAmount:       debt,
		MaxFeePercentage: fpmath.One(),
	}
}

// open funds and opens a position in one go.
func (h *harness) open(owner uuid.UUID, coll, debt fpmath.Decimal) *core.PositionResult {
	h.t.Helper()
	h.fund(owner, coll)
	return h.apply(h.openCmd(owner, coll, debt)).Result.(*core.PositionResult)
}

func (h *harness) setPrice(price fpmath.Decimal) {
	h.t.Helper()
	h.priceSeq++
	h.apply(&event.PriceUpdate{Header: h.header(), Price: price, Sequence: h.priceSeq})
}

func (h *harness) provide(depositor uuid.UUID, amount fpmath.Decimal) {
	h.t.Helper()
	h.apply(&event.ProvideToSP{Header: h.header(), Depositor: depositor, Amount: amount})
}

func (h *harness) position(id uuid.UUID) core.PositionView {
	h.t.Helper()
	v, err := h.core.Position(id)
	if err != nil {
		h.t.Fatalf("position %s: %v", id, err)
	}
	return v
}

func (h *harness) debtBalance(owner uuid.UUID) fpmath.Decimal {
	return h.core.BalanceOf(owner, ledger.AssetDebt)
}

func (h *harness) collBalance(owner uuid.UUID) fpmath.Decimal {
	return h.core.BalanceOf(owner, ledger.AssetCollateral)
}

// requireSupplyMatchesDebt checks that every debt token is backed by
// position debt.
func (h *harness) requireSupplyMatchesDebt() {
	h.t.Helper()
	supply := h.core.Supply(ledger.AssetDebt)
	if debt := h.core.SystemTotals().Debt; !supply.Eq(debt) {
		h.t.Errorf("debt supply %s != system debt %s", supply, debt)
	}
}

// requireOrdered checks that the sorted list is in non-increasing NICR order.
func (h *harness) requireOrdered() {
	h.t.Helper()
	ids := h.core.SortedPositions()
	for i := 1; i < len(ids); i++ {
		prev, cur := h.position(ids[i-1]), h.position(ids[i])
		if prev.NICR.Lt(cur.NICR) {
			h.t.Errorf("list out of order at %d: %s < %s", i, prev.NICR, cur.NICR)
		}
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func hasEvent(events []event.Event, et event.EventType) bool {
	for _, e := range events {
		if e.EventType() == et {
			return true
		}
	}
	return false
}
