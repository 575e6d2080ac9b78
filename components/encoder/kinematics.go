package encoder

import "math"

// clampVelocity limits v to [-MaxVelocity, MaxVelocity]. Infinite inputs land on the bounds.
func clampVelocity(v float64) float64 {
	return math.Max(-MaxVelocity, math.Min(MaxVelocity, v))
}

// integrate advances the velocity by acceleration*dt and returns the new velocity together with
// the linear displacement over dt, using the trapezoidal rule on the old and new velocity.
func integrate(velocity, acceleration, dt float64) (float64, float64) {
	next := clampVelocity(velocity + acceleration*dt)
	return next, (velocity + next) / 2 * dt
}

// angularDisplacement converts a linear displacement at the wheel surface into radians of wheel angle.
func angularDisplacement(ds, diameter float64) float64 {
	return 2 * ds / diameter
}
