package ikf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-ahrs/matrix"
)

// adaptiveEstimator estimates the covariance of external (non gravitational)
// acceleration from a sliding window of accelerometer residuals.
//
// The averaged residual covariance of the window is eigendecomposed and
// compared, per eigendirection, against the innovation covariance predicted
// by the sensor noise model alone. Any excess is attributed to external
// acceleration and returned as an inflation of the accelerometer measurement
// noise aligned with the eigenbasis of the disturbance.
type adaptiveEstimator struct {
	// window is the residual history length M1
	window int
	// hysteresis is the quiet sample bound M2
	hysteresis int
	// gamma is the detection threshold
	gamma float64
	// hist is the circular buffer of residual outer products
	hist []*mat.Dense
	// r1count is the write cursor into hist
	r1count int
	// r2count counts consecutive quiet samples since the last detection
	r2count int
	// qstar is the external acceleration covariance held between samples
	qstar *mat.Dense
}

// newAdaptiveEstimator creates a new adaptive noise estimator.
// It starts fully decayed: the quiet counter sits at the hysteresis bound
// and the held external acceleration covariance is zero.
func newAdaptiveEstimator(window, hysteresis int, gamma float64) *adaptiveEstimator {
	hist := make([]*mat.Dense, window)
	for i := range hist {
		hist[i] = mat.NewDense(numAxes, numAxes, nil)
	}

	return &adaptiveEstimator{
		window:     window,
		hysteresis: hysteresis,
		gamma:      gamma,
		hist:       hist,
		r2count:    hysteresis,
		qstar:      mat.NewDense(numAxes, numAxes, nil),
	}
}

// estimate consumes the accelerometer residual of the current step and
// returns the measurement noise inflation to apply to this correction.
// It returns error if the eigendecomposition of the windowed residual
// covariance fails to converge.
func (a *adaptiveEstimator) estimate(resid mat.Vector, h1, p, ra *mat.Dense) (*mat.Dense, error) {
	a.hist[a.r1count%a.window].Copy(matrix.Outer(resid))
	a.r1count++

	// uk is the windowed estimate of the actual innovation covariance
	uk := mat.NewDense(numAxes, numAxes, nil)
	for _, r := range a.hist {
		uk.Add(uk, r)
	}
	uk.Scale(1/float64(a.window), uk)
	matrix.Resym(uk)

	// innovation covariance predicted with no external acceleration
	ph := &mat.Dense{}
	ph.Mul(p, h1.T())
	fooR2 := &mat.Dense{}
	fooR2.Mul(h1, ph)
	fooR2.Add(fooR2, ra)

	var eig mat.EigenSym
	if ok := eig.Factorize(matrix.ToSym(uk), true); !ok {
		return nil, fmt.Errorf("residual covariance eigendecomposition failed")
	}

	lambda := eig.Values(nil)
	vecs := &mat.Dense{}
	eig.VectorsTo(vecs)

	// mu projects the predicted covariance onto each eigendirection
	maxExcess := 0.0
	first := true
	excess := make([]float64, numAxes)
	for i := 0; i < numAxes; i++ {
		u := vecs.ColView(i)
		fu := mat.NewVecDense(numAxes, nil)
		fu.MulVec(fooR2, u)
		mu := mat.Dot(u, fu)

		d := lambda[i] - mu
		if first || d > maxExcess {
			maxExcess = d
			first = false
		}
		if d > 0 {
			excess[i] = d
		}
	}

	if maxExcess > a.gamma {
		// external acceleration detected: rebuild the held covariance
		// in the eigenbasis of the disturbance
		a.r2count = 0
		a.qstar.Zero()
		for i := 0; i < numAxes; i++ {
			if excess[i] == 0 {
				continue
			}
			uu := matrix.Outer(vecs.ColView(i))
			uu.Scale(excess[i], uu)
			a.qstar.Add(a.qstar, uu)
		}
	} else {
		// quiet sample: keep compensating with the held covariance until
		// the hysteresis bound is reached
		a.r2count++
		if a.r2count >= a.hysteresis {
			a.qstar.Zero()
		}
	}

	qstar := &mat.Dense{}
	qstar.CloneFrom(a.qstar)

	return qstar, nil
}
