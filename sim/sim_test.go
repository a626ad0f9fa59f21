package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-ahrs/quat"
)

const g = 9.81

func TestInitCond(t *testing.T) {
	assert := assert.New(t)

	state := mat.NewVecDense(2, []float64{1.0, 2.0})
	cov := mat.NewSymDense(2, []float64{0.25, 0, 0, 0.25})

	ic := NewInitCond(state, cov)
	assert.NotNil(ic)

	s := ic.State()
	for i := 0; i < state.Len(); i++ {
		assert.Equal(state.AtVec(i), s.AtVec(i))
	}

	c := ic.Cov()
	assert.Equal(cov.SymmetricDim(), c.SymmetricDim())
}

func TestNewIMU(t *testing.T) {
	assert := assert.New(t)

	imu, err := NewIMU(&Config{Gravity: g})
	assert.NotNil(imu)
	assert.NoError(err)
	assert.InDelta(1.0, imu.Attitude().Norm(), 1e-12)

	imu, err = NewIMU(nil)
	assert.Nil(imu)
	assert.Error(err)

	imu, err = NewIMU(&Config{Gravity: g, GyroBias: mat.NewVecDense(2, nil)})
	assert.Nil(imu)
	assert.Error(err)

	imu, err = NewIMU(&Config{Gravity: g, AccelBias: mat.NewVecDense(2, nil)})
	assert.Nil(imu)
	assert.Error(err)
}

func TestIMUStaticReadings(t *testing.T) {
	assert := assert.New(t)

	imu, err := NewIMU(&Config{Gravity: g, DipAngle: 0.5})
	assert.NoError(err)

	// tiny rate keeps the attitude essentially level
	rate := mat.NewVecDense(3, nil)
	s, err := imu.Step(rate, 0.01)
	assert.NoError(err)

	// at identity attitude the accelerometer sees gravity on the z axis
	assert.InDelta(0.0, s.Accel.AtVec(0), 1e-12)
	assert.InDelta(0.0, s.Accel.AtVec(1), 1e-12)
	assert.InDelta(g, s.Accel.AtVec(2), 1e-12)

	// and the magnetometer the dip reference
	assert.InDelta(math.Cos(0.5), s.Mag.AtVec(0), 1e-12)
	assert.InDelta(0.0, s.Mag.AtVec(1), 1e-12)
	assert.InDelta(-math.Sin(0.5), s.Mag.AtVec(2), 1e-12)

	// errors
	_, err = imu.Step(nil, 0.01)
	assert.Error(err)
	_, err = imu.Step(rate, 0.0)
	assert.Error(err)
}

func TestIMUBiasAndDisturbance(t *testing.T) {
	assert := assert.New(t)

	bg := mat.NewVecDense(3, []float64{0.01, -0.02, 0.03})
	imu, err := NewIMU(&Config{Gravity: g, GyroBias: bg})
	assert.NoError(err)

	rate := mat.NewVecDense(3, nil)
	s, err := imu.Step(rate, 0.01)
	assert.NoError(err)
	for i := 0; i < 3; i++ {
		assert.InDelta(bg.AtVec(i), s.Gyro.AtVec(i), 1e-12)
	}

	// inject and clear an external acceleration
	assert.NoError(imu.SetExternalAccel(mat.NewVecDense(3, []float64{5, 0, 0})))
	s, err = imu.Step(rate, 0.01)
	assert.NoError(err)
	assert.InDelta(5.0, s.Accel.AtVec(0), 1e-12)

	assert.NoError(imu.SetExternalAccel(nil))
	s, err = imu.Step(rate, 0.01)
	assert.NoError(err)
	assert.InDelta(0.0, s.Accel.AtVec(0), 1e-12)

	assert.Error(imu.SetExternalAccel(mat.NewVecDense(2, nil)))
}

func TestIMURotation(t *testing.T) {
	assert := assert.New(t)

	imu, err := NewIMU(&Config{Gravity: g})
	assert.NoError(err)

	// rotate about z at 0.5 rad/s for 1s
	rate := mat.NewVecDense(3, []float64{0, 0, 0.5})
	dt := 0.001
	for i := 0; i < 1000; i++ {
		_, err := imu.Step(rate, dt)
		assert.NoError(err)
	}

	want := quat.FromAxisAngle(0, 0, 1, 0.5)
	got := imu.Attitude()
	dot := want.W*got.W + want.X*got.X + want.Y*got.Y + want.Z*got.Z
	assert.InDelta(1.0, math.Abs(dot), 1e-9)
}

func TestNewEulerPlot(t *testing.T) {
	assert := assert.New(t)

	truth := mat.NewDense(10, 4, nil)
	filter := mat.NewDense(10, 4, nil)
	for i := 0; i < 10; i++ {
		truth.Set(i, 0, float64(i)*0.01)
		filter.Set(i, 0, float64(i)*0.01)
	}

	p, err := NewEulerPlot(truth, filter)
	assert.NotNil(p)
	assert.NoError(err)

	p, err = NewEulerPlot(nil, filter)
	assert.Nil(p)
	assert.Error(err)

	p, err = NewEulerPlot(truth, mat.NewDense(10, 2, nil))
	assert.Nil(p)
	assert.Error(err)
}
