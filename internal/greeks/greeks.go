package greeks

import (
	"fmt"
	"math"
)

// sqrt(2*pi), the normalization of the standard normal density.
var sqrt2Pi = math.Sqrt(2 * math.Pi)

// Greeks holds option sensitivities for a single unit, or an aggregate
// across a portfolio once scaled by signed position sizes and summed.
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
}

// Add accumulates another set of greeks into g.
func (g *Greeks) Add(other Greeks) {
	g.Delta += other.Delta
	g.Gamma += other.Gamma
	g.Vega += other.Vega
	g.Theta += other.Theta
}

// Mult scales every field, typically by a signed position size.
func (g *Greeks) Mult(factor float64) {
	g.Delta *= factor
	g.Gamma *= factor
	g.Vega *= factor
	g.Theta *= factor
}

func (g Greeks) String() string {
	return fmt.Sprintf("delta: %.2f, gamma: %.5f, vega: %.2f, theta: %.2f", g.Delta, g.Gamma, g.Vega, g.Theta)
}

// All computes the unit greeks of an option via the Black-76 forward formula.
// knownDelta, when non-nil, is the exchange-provided delta and is trusted over
// the model. Zero implied vol or non-positive maturity takes the degenerate
// branch; there is no division by zero to guard with exceptions.
func All(fwd, strike, iv, maturity float64, isPut bool, knownDelta *float64) Greeks {
	var g Greeks
	if knownDelta != nil {
		g.Delta = *knownDelta
	}

	voltime := math.Sqrt(maturity) * iv
	if voltime > 0 {
		d1 := math.Log(fwd/strike)/voltime + 0.5*voltime
		if knownDelta == nil {
			g.Delta = 0.5 + 0.5*math.Erf(d1/math.Sqrt2)
			if isPut {
				g.Delta -= 1.0
			}
		}
		incNorm := math.Exp(d1*d1/-2.0) / sqrt2Pi
		g.Gamma = incNorm / (fwd * voltime)
		g.Vega = 0.01 * fwd * incNorm * voltime / iv
	} else if fwd > strike {
		g.Delta = 1.0
	}
	return g
}

// CallDelta computes the model delta of a call.
func CallDelta(fwd, strike, iv, maturity float64) float64 {
	voltime := math.Sqrt(maturity) * iv
	if voltime > 0 {
		d1 := math.Log(fwd/strike)/voltime + 0.5*voltime
		return 0.5 + 0.5*math.Erf(d1/math.Sqrt2)
	}
	if fwd > strike {
		return 1.0
	}
	return 0.0
}

// PutDelta computes the model delta of a put.
func PutDelta(fwd, strike, iv, maturity float64) float64 {
	return CallDelta(fwd, strike, iv, maturity) - 1.0
}
