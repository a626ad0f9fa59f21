// Package matrix provides small dense matrix helpers shared by the filter
// packages.
package matrix

import (
	"gonum.org/v1/gonum/mat"
)

// Skew returns the 3x3 skew-symmetric cross product matrix [v]x of a
// 3-vector v, so that Skew(v)*u = v x u.
// It panics if v is not a 3-vector.
func Skew(v mat.Vector) *mat.Dense {
	if v.Len() != 3 {
		panic("matrix: skew of a non 3-vector")
	}
	x, y, z := v.AtVec(0), v.AtVec(1), v.AtVec(2)

	return mat.NewDense(3, 3, []float64{
		0, -z, y,
		z, 0, -x,
		-y, x, 0,
	})
}

// BlockDiag3 assembles a 9x9 block diagonal matrix from three 3x3 blocks.
func BlockDiag3(a, b, c mat.Matrix) *mat.Dense {
	out := mat.NewDense(9, 9, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, a.At(i, j))
			out.Set(3+i, 3+j, b.At(i, j))
			out.Set(6+i, 6+j, c.At(i, j))
		}
	}

	return out
}

// Outer returns the outer product v*v' of a vector with itself.
func Outer(v mat.Vector) *mat.Dense {
	out := mat.NewDense(v.Len(), v.Len(), nil)
	out.Outer(1.0, v, v)

	return out
}

// Resym overwrites m with its symmetric part 0.5*(m + m') in place.
// It panics if m is not square.
func Resym(m *mat.Dense) {
	r, c := m.Dims()
	if r != c {
		panic("matrix: resym of a non-square matrix")
	}
	for i := 0; i < r; i++ {
		for j := i + 1; j < c; j++ {
			v := 0.5 * (m.At(i, j) + m.At(j, i))
			m.Set(i, j, v)
			m.Set(j, i, v)
		}
	}
}

// ToSym copies a square matrix into a new SymDense using its upper triangle.
// It panics if m is not square.
func ToSym(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic("matrix: ToSym of a non-square matrix")
	}
	out := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < c; j++ {
			out.SetSym(i, j, m.At(i, j))
		}
	}

	return out
}

// MinEigenvalue returns the smallest eigenvalue of a symmetric matrix.
// It returns false if the eigendecomposition fails to converge.
func MinEigenvalue(m mat.Symmetric) (float64, bool) {
	var eig mat.EigenSym
	if ok := eig.Factorize(m, false); !ok {
		return 0, false
	}
	vals := eig.Values(nil)

	min := vals[0]
	for _, v := range vals[1:] {
		if v < min {
			min = v
		}
	}

	return min, true
}
