package math

var (
	// DefaultIssuanceFactor halves cumulative issuance every year when applied per minute.
	DefaultIssuanceFactor = FromRaw(999_998_681_227_695_000)

	// DefaultMinuteDecayFactor gives the base rate a 12 hour half-life.
	DefaultMinuteDecayFactor = FromRaw(999_037_758_833_783_000)
)

// IssuanceCurve is the time-decayed reward schedule:
// cumulative(t) = supplyCap * (1 - factor^minutes(t)).
type IssuanceCurve struct {
	SupplyCap Decimal
	Factor    Decimal
}

func NewIssuanceCurve(supplyCap, factor Decimal) IssuanceCurve {
	return IssuanceCurve{SupplyCap: supplyCap, Factor: factor}
}

// CumulativeIssued returns the total issued after the given number of minutes.
func (c IssuanceCurve) CumulativeIssued(minutes uint64) Decimal {
	fraction := DecimalPrecision.Sub(DecPow(c.Factor, minutes))
	return c.SupplyCap.MulDiv(fraction, DecimalPrecision)
}

// Issuance returns what must be issued to move from alreadyIssued to the curve value
// at minutes. Never negative.
func (c IssuanceCurve) Issuance(alreadyIssued Decimal, minutes uint64) Decimal {
	return c.CumulativeIssued(minutes).SubFloor(alreadyIssued)
}

// DecayBaseRate applies factor^minutes to a fee base rate.
func DecayBaseRate(baseRate Decimal, minutes uint64, factor Decimal) Decimal {
	if baseRate.IsZero() {
		return baseRate
	}
	return baseRate.MulDiv(DecPow(factor, minutes), DecimalPrecision)
}
