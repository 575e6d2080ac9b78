package encoder

import "math"

// maxCrossings bounds the number of pulses a single update may produce. Anything larger cannot be
// represented exactly in the float64 accumulator math and is treated as a numerical fault.
const maxCrossings = 1 << 52

// PulseInterval is the wheel angle, in radians, covered by one pulse.
func PulseInterval(ppr int) float64 {
	return 2 * PiGreco / float64(ppr)
}

// advancePhase adds dTheta to the accumulator and folds every full interval crossed into a signed
// number of pulses. The returned phase lies in [0, interval) unless the input was not finite, in
// which case the phase is NaN and no pulses are reported.
func advancePhase(phase, dTheta, interval float64) (float64, int64) {
	acc := phase + dTheta
	if math.IsNaN(acc) || math.IsInf(acc, 0) {
		return math.NaN(), 0
	}
	crossings := math.Floor(acc / interval)
	if math.Abs(crossings) > maxCrossings {
		return math.NaN(), 0
	}
	acc -= crossings * interval
	// floor division can leave the remainder one ulp outside the interval
	if acc < 0 {
		acc += interval
		crossings--
	}
	if acc >= interval {
		acc -= interval
		crossings++
	}
	return acc, int64(crossings)
}
