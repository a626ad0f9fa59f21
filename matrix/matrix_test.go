package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestSkew(t *testing.T) {
	assert := assert.New(t)

	v := mat.NewVecDense(3, []float64{1.0, 2.0, 3.0})
	s := Skew(v)

	// antisymmetric with zero diagonal
	for i := 0; i < 3; i++ {
		assert.Equal(0.0, s.At(i, i))
		for j := 0; j < 3; j++ {
			assert.Equal(-s.At(j, i), s.At(i, j))
		}
	}

	// Skew(v)*u = v x u
	u := mat.NewVecDense(3, []float64{0.0, 1.0, 0.0})
	out := mat.NewVecDense(3, nil)
	out.MulVec(s, u)
	assert.InDelta(-3.0, out.AtVec(0), 1e-15)
	assert.InDelta(0.0, out.AtVec(1), 1e-15)
	assert.InDelta(1.0, out.AtVec(2), 1e-15)

	assert.Panics(func() { Skew(mat.NewVecDense(2, nil)) })
}

func TestBlockDiag3(t *testing.T) {
	assert := assert.New(t)

	a := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	b := mat.NewDense(3, 3, []float64{2, 0, 0, 0, 2, 0, 0, 0, 2})
	c := mat.NewDense(3, 3, []float64{3, 0, 0, 0, 3, 0, 0, 0, 3})

	out := BlockDiag3(a, b, c)
	r, cols := out.Dims()
	assert.Equal(9, r)
	assert.Equal(9, cols)

	for i := 0; i < 3; i++ {
		assert.Equal(1.0, out.At(i, i))
		assert.Equal(2.0, out.At(3+i, 3+i))
		assert.Equal(3.0, out.At(6+i, 6+i))
	}
	assert.Equal(0.0, out.At(0, 3))
	assert.Equal(0.0, out.At(8, 0))
}

func TestOuter(t *testing.T) {
	assert := assert.New(t)

	v := mat.NewVecDense(3, []float64{1.0, 2.0, 3.0})
	out := Outer(v)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(v.AtVec(i)*v.AtVec(j), out.At(i, j), 1e-15)
		}
	}
}

func TestResym(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{1.0, 2.0, 4.0, 3.0})
	Resym(m)

	assert.Equal(3.0, m.At(0, 1))
	assert.Equal(3.0, m.At(1, 0))
	assert.Equal(1.0, m.At(0, 0))

	assert.Panics(func() { Resym(mat.NewDense(2, 3, nil)) })
}

func TestToSym(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(2, 2, []float64{1.0, 2.0, 2.0, 3.0})
	s := ToSym(m)

	assert.Equal(2, s.SymmetricDim())
	assert.Equal(2.0, s.At(1, 0))

	assert.Panics(func() { ToSym(mat.NewDense(2, 3, nil)) })
}

func TestMinEigenvalue(t *testing.T) {
	assert := assert.New(t)

	s := mat.NewSymDense(2, []float64{2.0, 0.0, 0.0, 0.5})
	min, ok := MinEigenvalue(s)
	assert.True(ok)
	assert.InDelta(0.5, min, 1e-12)
}
