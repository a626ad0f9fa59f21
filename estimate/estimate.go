// Package estimate provides filter estimate values.
package estimate

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Base is a basic filter estimate: a value with a covariance.
type Base struct {
	// val is estimated value
	val *mat.VecDense
	// cov is estimate covariance
	cov *mat.SymDense
}

// NewBase returns a new estimate of val with zero covariance.
func NewBase(val mat.Vector) (*Base, error) {
	v := &mat.VecDense{}
	if val != nil {
		v.CloneFromVec(val)
	}

	return &Base{
		val: v,
		cov: mat.NewSymDense(v.Len(), nil),
	}, nil
}

// NewBaseWithCov returns a new estimate of val with covariance cov.
// It returns error if the dimensions of val and cov do not agree.
func NewBaseWithCov(val mat.Vector, cov mat.Symmetric) (*Base, error) {
	if val == nil || cov == nil {
		return nil, fmt.Errorf("invalid estimate: val %v, cov %v", val, cov)
	}

	if val.Len() != cov.SymmetricDim() {
		return nil, fmt.Errorf("invalid dimensions: val %d, cov %dx%d", val.Len(), cov.SymmetricDim(), cov.SymmetricDim())
	}

	v := &mat.VecDense{}
	v.CloneFromVec(val)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &Base{
		val: v,
		cov: c,
	}, nil
}

// Val returns a copy of the estimated value.
func (b *Base) Val() mat.Vector {
	v := &mat.VecDense{}
	v.CloneFromVec(b.val)

	return v
}

// Cov returns a copy of the estimate covariance.
func (b *Base) Cov() mat.Symmetric {
	cov := mat.NewSymDense(b.cov.SymmetricDim(), nil)
	cov.CopySym(b.cov)

	return cov
}
