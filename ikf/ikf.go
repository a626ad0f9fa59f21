// Package ikf implements a quaternion based indirect (error-state) Kalman
// filter for attitude and heading estimation from gyroscope, accelerometer
// and magnetometer readings.
//
// The filter propagates the orientation quaternion from the gyroscopes and
// estimates a 9 element error state (attitude error, gyro bias error, accel
// bias error) which is folded back into the quaternion and the bias
// estimates after every correction. The accelerometer corrects pitch and
// roll with adaptive compensation of external acceleration, the
// magnetometer corrects yaw only.
package ikf

import (
	"fmt"
	"math"

	gomatrix "github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	ahrs "github.com/milosgajdos/go-ahrs"
	"github.com/milosgajdos/go-ahrs/estimate"
	"github.com/milosgajdos/go-ahrs/matrix"
	"github.com/milosgajdos/go-ahrs/quat"
)

const (
	// stateSize is the size of the error state vector
	stateSize = 9
	// numAxes is the number of sensor axes
	numAxes = 3
	// quatSize is the number of quaternion components
	quatSize = 4
)

const (
	// DefaultWindow is the default residual history window length
	DefaultWindow = 5
	// DefaultHysteresis is the default number of quiet samples after which
	// external acceleration compensation decays to zero
	DefaultHysteresis = 3
	// DefaultGamma is the default external acceleration detection threshold
	DefaultGamma = 0.1
)

// Config configures the indirect Kalman filter.
type Config struct {
	// P0 is the initial 9x9 error state covariance
	P0 mat.Symmetric
	// Ra is the 3x3 accelerometer measurement noise covariance
	Ra mat.Symmetric
	// Rg is the 3x3 gyroscope measurement noise covariance
	Rg mat.Symmetric
	// Rm is the 3x3 magnetometer measurement noise covariance
	Rm mat.Symmetric
	// Qbg is the 3x3 gyroscope bias drift covariance
	Qbg mat.Symmetric
	// Qba is the 3x3 accelerometer bias drift covariance
	Qba mat.Symmetric
	// Gravity is the local gravity magnitude in sensor units
	Gravity float64
	// DipAngle is the local magnetic dip angle in radians
	DipAngle float64
	// Window is the residual history window length M1 used by the adaptive
	// noise estimator. Defaults to DefaultWindow if zero.
	Window int
	// Hysteresis is the quiet sample bound M2 of the adaptive noise
	// estimator. Defaults to DefaultHysteresis if zero.
	Hysteresis int
	// Gamma is the external acceleration detection threshold. Defaults to
	// DefaultGamma if zero; a negative value disables the threshold so any
	// excess residual covariance triggers compensation.
	Gamma float64
}

// IKF is an indirect Kalman filter attitude estimator.
type IKF struct {
	// x is the 9 element error state: attitude error, gyro bias error,
	// accel bias error
	x *mat.VecDense
	// p is the error state covariance
	p *mat.Dense
	// q is the process noise covariance
	q *mat.Dense
	// ra is the accelerometer measurement noise covariance
	ra *mat.Dense
	// rm is the magnetometer measurement noise covariance
	rm *mat.Dense
	// att is the orientation quaternion
	att quat.Quaternion
	// bg and ba are the running gyro and accel bias estimates
	bg *mat.VecDense
	ba *mat.VecDense
	// gtilde and mtilde are gravity and magnetic field reference vectors
	// in the navigation frame
	gtilde *mat.VecDense
	mtilde *mat.VecDense
	// a is the continuous time error state transition matrix
	a *mat.Dense
	// h1 and h2 are the accelerometer and magnetometer observation matrices
	h1 *mat.Dense
	h2 *mat.Dense
	// oldOmega is the angular velocity operator of the previous step
	oldOmega *mat.Dense
	// k1 is the accelerometer stage Kalman gain of the last update
	k1 *mat.Dense
	// adaptive estimates external acceleration covariance
	adaptive *adaptiveEstimator
	// eye9 and eye4 are identity matrices kept for the propagation steps
	eye9 *mat.Dense
	eye4 *mat.Dense
}

// New creates a new indirect Kalman filter attitude estimator and returns it.
// The error state starts at zero, the attitude at identity and the bias
// estimates at zero.
// It returns error if c is nil or if either of the configured covariance
// matrices has invalid dimensions.
func New(c *Config) (*IKF, error) {
	if c == nil {
		return nil, fmt.Errorf("invalid config: %v", c)
	}

	if c.P0 == nil || c.P0.SymmetricDim() != stateSize {
		return nil, fmt.Errorf("invalid initial covariance: %v", c.P0)
	}

	for _, m := range []struct {
		name string
		cov  mat.Symmetric
	}{
		{"Ra", c.Ra},
		{"Rg", c.Rg},
		{"Rm", c.Rm},
		{"Qbg", c.Qbg},
		{"Qba", c.Qba},
	} {
		if m.cov == nil || m.cov.SymmetricDim() != numAxes {
			return nil, fmt.Errorf("invalid %s covariance: %v", m.name, m.cov)
		}
	}

	window, hyst, gamma := c.Window, c.Hysteresis, c.Gamma
	if window == 0 {
		window = DefaultWindow
	}
	if hyst == 0 {
		hyst = DefaultHysteresis
	}
	// zero selects the default threshold, negative disables it
	switch {
	case gamma == 0:
		gamma = DefaultGamma
	case gamma < 0:
		gamma = 0
	}

	if window < 0 || hyst < 0 {
		return nil, fmt.Errorf("invalid adaptive config: window %d, hysteresis %d", window, hyst)
	}

	// gravity and magnetic dip reference vectors
	gtilde := mat.NewVecDense(numAxes, []float64{0, 0, c.Gravity})
	mtilde := mat.NewVecDense(numAxes, []float64{math.Cos(c.DipAngle), 0, -math.Sin(c.DipAngle)})

	// process noise: attitude error block driven by the gyro noise
	rqBlock := mat.NewDense(numAxes, numAxes, nil)
	rqBlock.Scale(0.25, c.Rg)
	q := matrix.BlockDiag3(rqBlock, c.Qbg, c.Qba)

	p := mat.NewDense(stateSize, stateSize, nil)
	p.Copy(c.P0)

	ra := mat.NewDense(numAxes, numAxes, nil)
	ra.Copy(c.Ra)
	rm := mat.NewDense(numAxes, numAxes, nil)
	rm.Copy(c.Rm)

	// attitude error to gyro bias coupling of the error state dynamics
	a := mat.NewDense(stateSize, stateSize, nil)
	a.Set(0, 3, -0.5)
	a.Set(1, 4, -0.5)
	a.Set(2, 5, -0.5)

	// accel bias block of the accelerometer observation matrix
	h1 := mat.NewDense(numAxes, stateSize, nil)
	h1.Set(0, 6, 1)
	h1.Set(1, 7, 1)
	h1.Set(2, 8, 1)

	h2 := mat.NewDense(numAxes, stateSize, nil)

	eye9, err := gomatrix.NewDenseValIdentity(stateSize, 1.0)
	if err != nil {
		return nil, err
	}
	eye4, err := gomatrix.NewDenseValIdentity(quatSize, 1.0)
	if err != nil {
		return nil, err
	}

	return &IKF{
		x:        mat.NewVecDense(stateSize, nil),
		p:        p,
		q:        q,
		ra:       ra,
		rm:       rm,
		att:      quat.Identity(),
		bg:       mat.NewVecDense(numAxes, nil),
		ba:       mat.NewVecDense(numAxes, nil),
		gtilde:   gtilde,
		mtilde:   mtilde,
		a:        a,
		h1:       h1,
		h2:       h2,
		oldOmega: mat.NewDense(quatSize, quatSize, nil),
		k1:       mat.NewDense(stateSize, numAxes, nil),
		adaptive: newAdaptiveEstimator(window, hyst, gamma),
		eye9:     eye9,
		eye4:     eye4,
	}, nil
}

// Predict propagates the filter through one time step of length dt using
// the angular rate reading u.
// The error state and its covariance are propagated through the discretized
// linear error dynamics, the quaternion through a fourth order integrator
// which combines the angular velocity operators of the current and the
// previous step.
// It returns error if u is not a 3-vector or if dt is not positive; the
// filter state is left untouched in that case.
func (k *IKF) Predict(u mat.Vector, dt float64) error {
	if u == nil || u.Len() != numAxes {
		return fmt.Errorf("invalid angular rate: %v", u)
	}

	if dt <= 0 {
		return fmt.Errorf("invalid time step: %f", dt)
	}

	// bias compensated angular rate
	w := mat.NewVecDense(numAxes, nil)
	w.SubVec(u, k.bg)

	setBlock(k.a, 0, 0, negate(matrix.Skew(w)))

	// dA = I + A*dt + A*A*dt^2/2
	dA := &mat.Dense{}
	dA.Mul(k.a, k.a)
	dA.Scale(dt*dt/2, dA)
	aDt := &mat.Dense{}
	aDt.Scale(dt, k.a)
	dA.Add(dA, aDt)
	dA.Add(dA, k.eye9)

	k.x.MulVec(dA, k.x)

	// Qd = Q*dt + 0.5*dt^2*(A*Q + Q*A')
	qd := &mat.Dense{}
	qd.Mul(k.a, k.q)
	qa := &mat.Dense{}
	qa.Mul(k.q, k.a.T())
	qd.Add(qd, qa)
	qd.Scale(0.5*dt*dt, qd)
	qDt := &mat.Dense{}
	qDt.Scale(dt, k.q)
	qd.Add(qd, qDt)
	matrix.Resym(qd)

	// P = dA*P*dA' + Qd
	pa := &mat.Dense{}
	pa.Mul(dA, k.p)
	k.p.Mul(pa, dA.T())
	k.p.Add(k.p, qd)
	matrix.Resym(k.p)

	k.integrate(w, dt)

	return nil
}

// integrate advances the quaternion by one step of the fourth order
// integrator using the bias compensated rate w.
func (k *IKF) integrate(w mat.Vector, dt float64) {
	omega := quat.RateMatrix(w)
	w2 := mat.Dot(w, w)

	// T = I + 0.75*Omega*dt - 0.25*oldOmega*dt - (1/6)*|w|^2*dt^2*I
	//       - (1/24)*Omega*oldOmega*dt^2 - (1/48)*|w|^2*Omega*dt^3
	tr := &mat.Dense{}
	tr.Scale(0.75*dt, omega)

	term := &mat.Dense{}
	term.Scale(0.25*dt, k.oldOmega)
	tr.Sub(tr, term)

	term.Scale(w2*dt*dt/6, k.eye4)
	tr.Sub(tr, term)

	term.Mul(omega, k.oldOmega)
	term.Scale(dt*dt/24, term)
	tr.Sub(tr, term)

	term.Scale(w2*dt*dt*dt/48, omega)
	tr.Sub(tr, term)

	tr.Add(tr, k.eye4)

	qv := mat.NewVecDense(quatSize, nil)
	qv.MulVec(tr, k.att.Vec())
	k.att = quat.FromVec(qv).Normalize()

	k.oldOmega = omega
}

// Update runs one correction cycle of the filter: the accelerometer stage
// corrects pitch and roll with adaptive compensation of external
// acceleration, the magnetometer stage, run only when magAvailable is true,
// corrects yaw. The bias error components of the error state are folded
// into the running bias estimates at the end of the cycle.
// It returns error if either required reading is not a 3-vector or if a
// correction stage fails on a degenerate innovation covariance; stages
// completed before the failure remain applied.
func (k *IKF) Update(acc, mag mat.Vector, magAvailable bool) error {
	if acc == nil || acc.Len() != numAxes {
		return fmt.Errorf("invalid accelerometer reading: %v", acc)
	}

	if magAvailable && (mag == nil || mag.Len() != numAxes) {
		return fmt.Errorf("invalid magnetometer reading: %v", mag)
	}

	if err := k.updateAcc(acc, magAvailable); err != nil {
		return err
	}

	if magAvailable {
		if err := k.updateMag(mag); err != nil {
			return err
		}
	}

	// fold bias errors into the running estimates and reset them
	for i := 0; i < numAxes; i++ {
		k.bg.SetVec(i, k.bg.AtVec(i)+k.x.AtVec(numAxes+i))
		k.x.SetVec(numAxes+i, 0)
		k.ba.SetVec(i, k.ba.AtVec(i)+k.x.AtVec(2*numAxes+i))
		k.x.SetVec(2*numAxes+i, 0)
	}

	return nil
}

// updateAcc runs the accelerometer correction stage.
func (k *IKF) updateAcc(acc mat.Vector, magAvailable bool) error {
	cq := k.att.RotationMatrix()

	// gravity in the body frame
	gBody := mat.NewVecDense(numAxes, nil)
	gBody.MulVec(cq, k.gtilde)

	skew := matrix.Skew(gBody)
	skew.Scale(2, skew)
	setBlock(k.h1, 0, 0, skew)

	// innovation
	z1 := mat.NewVecDense(numAxes, nil)
	z1.SubVec(acc, k.ba)
	z1.SubVec(z1, gBody)

	resid := mat.NewVecDense(numAxes, nil)
	resid.MulVec(k.h1, k.x)
	resid.SubVec(z1, resid)

	qstar, err := k.adaptive.estimate(resid, k.h1, k.p, k.ra)
	if err != nil {
		return fmt.Errorf("adaptive noise estimation failed: %v", err)
	}

	// effective accelerometer noise for this step
	rEff := &mat.Dense{}
	rEff.Add(k.ra, qstar)

	p1 := &mat.Dense{}
	var gain *mat.Dense

	if magAvailable {
		p1.CloneFrom(k.p)
		gain, err = kalmanGain(nil, p1, k.h1, rEff)
	} else {
		// without a magnetometer yaw is unobservable: mask the gain to
		// the rotation error block and project it onto the horizontal
		// plane so gravity cannot steer yaw
		p1 = mat.NewDense(stateSize, stateSize, nil)
		setBlock(p1, 0, 0, blockOf(k.p, 0, 0))

		v := mat.NewVecDense(numAxes, []float64{1, 1, 0})
		v.MulVec(cq, v)
		mask := mat.NewDense(stateSize, stateSize, nil)
		setBlock(mask, 0, 0, matrix.Outer(v))

		gain, err = kalmanGain(mask, p1, k.h1, rEff)
	}
	if err != nil {
		return fmt.Errorf("accelerometer correction failed: %v", err)
	}

	k.correct(gain, k.h1, z1, rEff)
	k.k1.Copy(gain)

	return nil
}

// updateMag runs the yaw only magnetometer correction stage.
func (k *IKF) updateMag(mag mat.Vector) error {
	cq := k.att.RotationMatrix()

	// magnetic field in the body frame
	mBody := mat.NewVecDense(numAxes, nil)
	mBody.MulVec(cq, k.mtilde)

	skew := matrix.Skew(mBody)
	skew.Scale(2, skew)
	setBlock(k.h2, 0, 0, skew)

	z2 := mat.NewVecDense(numAxes, nil)
	z2.SubVec(mag, mBody)

	p2 := mat.NewDense(stateSize, stateSize, nil)
	setBlock(p2, 0, 0, blockOf(k.p, 0, 0))

	// mask the gain to the rotation error component aligned with the body
	// up direction so only yaw is corrected
	v := mat.NewVecDense(numAxes, []float64{0, 0, 1})
	v.MulVec(cq, v)
	mask := mat.NewDense(stateSize, stateSize, nil)
	setBlock(mask, 0, 0, matrix.Outer(v))

	gain, err := kalmanGain(mask, p2, k.h2, k.rm)
	if err != nil {
		return fmt.Errorf("magnetometer correction failed: %v", err)
	}

	k.correct(gain, k.h2, z2, k.rm)

	return nil
}

// kalmanGain computes K = mask*P*H'*(H*P*H' + R)^-1. A nil mask skips the
// masking product. It returns error if the innovation covariance is not
// invertible.
func kalmanGain(mask, p, h, r *mat.Dense) (*mat.Dense, error) {
	ph := &mat.Dense{}
	ph.Mul(p, h.T())

	s := &mat.Dense{}
	s.Mul(h, ph)
	s.Add(s, r)

	sInv := &mat.Dense{}
	if err := sInv.Inverse(s); err != nil {
		return nil, fmt.Errorf("innovation covariance inversion failed: %v", err)
	}

	gain := &mat.Dense{}
	gain.Mul(ph, sInv)
	if mask != nil {
		gain.Mul(mask, gain)
	}

	return gain, nil
}

// correct applies one measurement stage: error state update, Joseph form
// covariance update and the fold of the rotation error into the quaternion.
func (k *IKF) correct(gain, h *mat.Dense, z mat.Vector, r *mat.Dense) {
	// x = x + K*(z - H*x)
	inn := mat.NewVecDense(numAxes, nil)
	inn.MulVec(h, k.x)
	inn.SubVec(z, inn)
	corr := mat.NewVecDense(stateSize, nil)
	corr.MulVec(gain, inn)
	k.x.AddVec(k.x, corr)

	// P = (I - K*H)*P*(I - K*H)' + K*R*K'
	ikh := &mat.Dense{}
	ikh.Mul(gain, h)
	ikh.Sub(k.eye9, ikh)

	ip := &mat.Dense{}
	ip.Mul(ikh, k.p)
	k.p.Mul(ip, ikh.T())

	kr := &mat.Dense{}
	kr.Mul(gain, r)
	krk := &mat.Dense{}
	krk.Mul(kr, gain.T())
	k.p.Add(k.p, krk)
	matrix.Resym(k.p)

	// fold the small angle rotation error into the quaternion and reset it
	qe := quat.New(1, k.x.AtVec(0), k.x.AtVec(1), k.x.AtVec(2))
	k.att = k.att.Mul(qe).Normalize()
	for i := 0; i < numAxes; i++ {
		k.x.SetVec(i, 0)
	}
}

// SetAttitude overwrites the orientation quaternion with q.
// It returns error if q is nil.
func (k *IKF) SetAttitude(q *quat.Quaternion) error {
	if q == nil {
		return fmt.Errorf("invalid attitude: %v", q)
	}
	k.att = *q

	return nil
}

// SetOmega seeds the previous step angular velocity operator from the rate
// vector u. It is only meaningful before the first Predict call.
// It returns error if u is not a 3-vector.
func (k *IKF) SetOmega(u mat.Vector) error {
	if u == nil || u.Len() != numAxes {
		return fmt.Errorf("invalid angular rate: %v", u)
	}
	k.oldOmega = quat.RateMatrix(u)

	return nil
}

// Attitude returns the current orientation estimate.
func (k *IKF) Attitude() quat.Quaternion {
	return k.att
}

// Euler returns the current orientation as ZYX Euler roll, pitch and yaw
// angles in radians.
func (k *IKF) Euler() (roll, pitch, yaw float64) {
	return k.att.Euler()
}

// State returns a copy of the current error state.
func (k *IKF) State() mat.Vector {
	x := mat.NewVecDense(stateSize, nil)
	x.CopyVec(k.x)

	return x
}

// SetState overwrites the error state with x.
// It returns error if x is not a 9-vector.
func (k *IKF) SetState(x mat.Vector) error {
	if x == nil || x.Len() != stateSize {
		return fmt.Errorf("invalid state: %v", x)
	}
	k.x.CopyVec(x)

	return nil
}

// Cov returns the error state covariance.
func (k *IKF) Cov() mat.Symmetric {
	return matrix.ToSym(k.p)
}

// SetCov sets the error state covariance to cov.
// It returns error if cov is nil or has invalid dimensions.
func (k *IKF) SetCov(cov mat.Symmetric) error {
	if cov == nil || cov.SymmetricDim() != stateSize {
		return fmt.Errorf("invalid covariance: %v", cov)
	}
	k.p.Copy(cov)

	return nil
}

// Gain returns the accelerometer stage Kalman gain of the last update.
func (k *IKF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k1)

	return gain
}

// GyroBias returns a copy of the running gyro bias estimate.
func (k *IKF) GyroBias() mat.Vector {
	b := mat.NewVecDense(numAxes, nil)
	b.CopyVec(k.bg)

	return b
}

// AccelBias returns a copy of the running accelerometer bias estimate.
func (k *IKF) AccelBias() mat.Vector {
	b := mat.NewVecDense(numAxes, nil)
	b.CopyVec(k.ba)

	return b
}

// Estimate returns the current error state and its covariance as an
// ahrs.Estimate.
func (k *IKF) Estimate() (ahrs.Estimate, error) {
	return estimate.NewBaseWithCov(k.State(), k.Cov())
}

// setBlock copies src into dst starting at row r and column c.
func setBlock(dst *mat.Dense, r, c int, src mat.Matrix) {
	rows, cols := src.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(r+i, c+j, src.At(i, j))
		}
	}
}

// blockOf returns a copy of the 3x3 block of m at row r and column c.
func blockOf(m *mat.Dense, r, c int) *mat.Dense {
	out := mat.NewDense(numAxes, numAxes, nil)
	for i := 0; i < numAxes; i++ {
		for j := 0; j < numAxes; j++ {
			out.Set(i, j, m.At(r+i, c+j))
		}
	}

	return out
}

// negate returns -m.
func negate(m *mat.Dense) *mat.Dense {
	out := &mat.Dense{}
	out.Scale(-1, m)

	return out
}
