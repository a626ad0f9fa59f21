package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	ahrs "github.com/milosgajdos/go-ahrs"
	"github.com/milosgajdos/go-ahrs/quat"
)

// Sample is one set of sensor readings produced by the simulator.
type Sample struct {
	// Gyro is the angular rate reading
	Gyro *mat.VecDense
	// Accel is the specific force reading
	Accel *mat.VecDense
	// Mag is the magnetic field reading
	Mag *mat.VecDense
}

// Config configures the IMU simulator.
type Config struct {
	// Attitude is the initial true orientation. Zero value means identity.
	Attitude quat.Quaternion
	// GyroBias and AccelBias are constant sensor biases. Nil means zero.
	GyroBias  mat.Vector
	AccelBias mat.Vector
	// GyroNoise, AccelNoise and MagNoise are additive noise sources.
	// Nil means noiseless.
	GyroNoise  ahrs.Noise
	AccelNoise ahrs.Noise
	MagNoise   ahrs.Noise
	// Gravity is the gravity magnitude in sensor units
	Gravity float64
	// DipAngle is the magnetic dip angle in radians
	DipAngle float64
}

// IMU generates gyroscope, accelerometer and magnetometer readings for a
// rigid body whose true attitude it integrates by exact axis-angle steps.
type IMU struct {
	att    quat.Quaternion
	bg     *mat.VecDense
	ba     *mat.VecDense
	gn     ahrs.Noise
	an     ahrs.Noise
	mn     ahrs.Noise
	gtilde *mat.VecDense
	mtilde *mat.VecDense
	// ext is external acceleration injected into the body frame readings
	ext *mat.VecDense
}

// NewIMU creates a new IMU simulator and returns it.
// It returns error if either configured bias is not a 3-vector.
func NewIMU(c *Config) (*IMU, error) {
	if c == nil {
		return nil, fmt.Errorf("invalid config: %v", c)
	}

	att := c.Attitude
	if att == (quat.Quaternion{}) {
		att = quat.Identity()
	}

	bg := mat.NewVecDense(3, nil)
	if c.GyroBias != nil {
		if c.GyroBias.Len() != 3 {
			return nil, fmt.Errorf("invalid gyro bias: %v", c.GyroBias)
		}
		bg.CopyVec(c.GyroBias)
	}

	ba := mat.NewVecDense(3, nil)
	if c.AccelBias != nil {
		if c.AccelBias.Len() != 3 {
			return nil, fmt.Errorf("invalid accel bias: %v", c.AccelBias)
		}
		ba.CopyVec(c.AccelBias)
	}

	return &IMU{
		att:    att,
		bg:     bg,
		ba:     ba,
		gn:     c.GyroNoise,
		an:     c.AccelNoise,
		mn:     c.MagNoise,
		gtilde: mat.NewVecDense(3, []float64{0, 0, c.Gravity}),
		mtilde: mat.NewVecDense(3, []float64{math.Cos(c.DipAngle), 0, -math.Sin(c.DipAngle)}),
		ext:    mat.NewVecDense(3, nil),
	}, nil
}

// Attitude returns the current true orientation of the body.
func (s *IMU) Attitude() quat.Quaternion {
	return s.att
}

// SetExternalAccel sets the external acceleration added to subsequent
// accelerometer readings in the body frame. A nil vector clears it.
// It returns error if a is not nil and not a 3-vector.
func (s *IMU) SetExternalAccel(a mat.Vector) error {
	if a == nil {
		s.ext.Zero()
		return nil
	}

	if a.Len() != 3 {
		return fmt.Errorf("invalid external acceleration: %v", a)
	}
	s.ext.CopyVec(a)

	return nil
}

// Step rotates the body at the angular rate for one step of length dt and
// returns the sensor readings at the new orientation.
// It returns error if rate is not a 3-vector or dt is not positive.
func (s *IMU) Step(rate mat.Vector, dt float64) (*Sample, error) {
	if rate == nil || rate.Len() != 3 {
		return nil, fmt.Errorf("invalid angular rate: %v", rate)
	}

	if dt <= 0 {
		return nil, fmt.Errorf("invalid time step: %f", dt)
	}

	wx, wy, wz := rate.AtVec(0), rate.AtVec(1), rate.AtVec(2)
	angle := math.Sqrt(wx*wx+wy*wy+wz*wz) * dt
	s.att = s.att.Mul(quat.FromAxisAngle(wx, wy, wz, angle)).Normalize()

	gyro := mat.NewVecDense(3, nil)
	gyro.AddVec(rate, s.bg)

	accel := s.att.Rotate(s.gtilde)
	accel.AddVec(accel, s.ba)
	accel.AddVec(accel, s.ext)

	mag := s.att.Rotate(s.mtilde)

	if s.gn != nil {
		gyro.AddVec(gyro, s.gn.Sample())
	}
	if s.an != nil {
		accel.AddVec(accel, s.an.Sample())
	}
	if s.mn != nil {
		mag.AddVec(mag, s.mn.Sample())
	}

	return &Sample{Gyro: gyro, Accel: accel, Mag: mag}, nil
}
