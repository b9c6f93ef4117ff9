package math

// MaxMinutes caps DecPow exponents at 1000 years of minutes.
const MaxMinutes = 525_600_000

// ComputeCR returns coll * price / debt. A debt-free position reports Max().
func ComputeCR(coll, debt, price Decimal) Decimal {
	if debt.IsZero() {
		return maxDecimal
	}
	return coll.MulDiv(price, debt)
}

// ComputeNominalCR returns coll * 1e20 / debt, the price-free ratio used to order
// positions. A debt-free position reports Max().
func ComputeNominalCR(coll, debt Decimal) Decimal {
	if debt.IsZero() {
		return maxDecimal
	}
	return coll.MulDiv(NICRPrecision, debt)
}

// DecPow raises an 18-decimal base to an integer power by repeated squaring.
// Exponents above MaxMinutes are clamped.
func DecPow(base Decimal, minutes uint64) Decimal {
	if minutes > MaxMinutes {
		minutes = MaxMinutes
	}
	if minutes == 0 {
		return DecimalPrecision
	}

	y := DecimalPrecision
	x := base
	n := minutes

	for n > 1 {
		if n%2 == 0 {
			x = x.DecMul(x)
			n /= 2
		} else {
			y = x.DecMul(y)
			x = x.DecMul(x)
			n = (n - 1) / 2
		}
	}
	return x.DecMul(y)
}
