/*
Logic:       Beta-distributed sampling via two independent Gamma draws
             (Marsaglia-Tsang), since Thompson sampling needs
             p_i ~ Beta(alpha_i, beta_i) and the standard library has no
             Beta or Gamma distribution.
Root Cause:  Spec §4.6: "Thompson sampling — for each arm draw
             p_i ~ Beta(alpha_i, beta_i)."
Context:     Grounded on tokenhub's internal/router/thompson.go
             betaSample/gammaSample: the identical Marsaglia-Tsang
             Gamma-to-Beta composition, kept on stdlib math/rand since
             that file itself needs no third-party distribution package
             either — see DESIGN.md.
*/
package bandit

import (
	"math"
	"math/rand"
)

// sampleBeta draws one sample from Beta(alpha, beta) using the ratio of
// two independent Gamma(alpha,1)/Gamma(beta,1) draws: if X~Gamma(a,1)
// and Y~Gamma(b,1) are independent, X/(X+Y)~Beta(a,b).
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws one sample from Gamma(shape, 1) via Marsaglia-Tsang
// for shape >= 1, and via the Ahrens-Dieter boost (Gamma(a,1) from
// Gamma(a+1,1) scaled by U^(1/a)) for shape in (0,1).
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
