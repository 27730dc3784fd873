package vmf

import "math"

// logBesselI returns log I_v(x), the log of the modified Bessel function of
// the first kind of real order v >= 0, for x > 0. The von Mises-Fisher
// normalizer needs I_{d/2-1}, a fractional order gonum's special functions
// do not cover, so it is computed here: the ascending series in log space
// for moderate arguments and the large-argument asymptotic expansion beyond.
func logBesselI(v, x float64) float64 {
	if x <= 0 {
		if v == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	if x >= 500 {
		return logBesselIAsymptotic(v, x)
	}
	return logBesselISeries(v, x)
}

// logBesselISeries sums I_v(x) = sum_m (x/2)^(2m+v) / (m! Gamma(m+v+1)) with
// every term kept in log space, so small x and large v cannot underflow.
func logBesselISeries(v, x float64) float64 {
	logHalfX := math.Log(x / 2)
	lgv, _ := math.Lgamma(v + 1)

	logSum := v*logHalfX - lgv // m = 0 term
	for m := 1; m <= 1000; m++ {
		lgm, _ := math.Lgamma(float64(m) + 1)
		lgmv, _ := math.Lgamma(float64(m) + v + 1)
		logTerm := (2*float64(m)+v)*logHalfX - lgm - lgmv
		logSum = logAddExp(logSum, logTerm)
		// Terms decay monotonically once 2m exceeds x; stop when the next
		// term cannot move the sum at double precision.
		if 2*float64(m) > x && logTerm < logSum-36 {
			break
		}
	}
	return logSum
}

// logBesselIAsymptotic uses the large-argument expansion
// I_v(x) ~ e^x / sqrt(2 pi x) * (1 - (u-1)/(8x) + (u-1)(u-9)/(2(8x)^2) - ...)
// with u = 4v^2, accurate to well below score tolerance for x >= 500.
func logBesselIAsymptotic(v, x float64) float64 {
	u := 4 * v * v
	e := 8 * x
	correction := 1 - (u-1)/e + (u-1)*(u-9)/(2*e*e) - (u-1)*(u-9)*(u-25)/(6*e*e*e)
	return x - 0.5*math.Log(2*math.Pi*x) + math.Log(correction)
}

func logAddExp(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if math.IsInf(a, -1) {
		return a
	}
	return a + math.Log1p(math.Exp(b-a))
}
