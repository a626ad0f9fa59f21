package ahrs

import (
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-ahrs/quat"
)

// Filter is an attitude and heading filter advanced one sample at a time.
// Predict consumes a raw gyroscope reading, Update a raw accelerometer and
// optionally a magnetometer reading. Both mutate the filter in place.
type Filter interface {
	// Predict propagates the attitude through one time step of length dt
	// using the angular rate measured by the gyroscope
	Predict(gyro mat.Vector, dt float64) error
	// Update corrects the attitude using an accelerometer reading and,
	// when magAvailable is true, a magnetometer reading
	Update(acc, mag mat.Vector, magAvailable bool) error
	// Attitude returns the current orientation estimate
	Attitude() quat.Quaternion
	// State returns the current error state of the filter
	State() mat.Vector
	// Cov returns the error state covariance
	Cov() mat.Symmetric
}

// InitCond is initial condition of a filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is a filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is sensor or process noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Reset resets the noise
	Reset()
}
