// Package noise provides noise sources for sensor simulation and filtering.
package noise

import (
	"fmt"
	"time"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is multivariate Gaussian noise.
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov mat.Symmetric
}

// NewGaussian creates new Gaussian noise with the given mean and covariance.
// It returns error if the dimensions of mean and cov do not agree or if cov
// is not positive definite.
func NewGaussian(mean []float64, cov mat.Symmetric) (*Gaussian, error) {
	dist, ok := newGaussianDist(mean, cov)
	if !ok {
		return nil, fmt.Errorf("failed to create Gaussian noise")
	}

	return &Gaussian{
		dist: dist,
		mean: mean,
		cov:  cov,
	}, nil
}

// Sample draws a sample of the Gaussian noise and returns it.
func (g *Gaussian) Sample() mat.Vector {
	r := g.dist.Rand(nil)

	return mat.NewVecDense(len(r), r)
}

// Cov returns the covariance matrix of the noise.
func (g *Gaussian) Cov() mat.Symmetric {
	return g.cov
}

// Mean returns the noise mean.
func (g *Gaussian) Mean() []float64 {
	return g.mean
}

// Reset reseeds the noise source. The mean and covariance were validated by
// NewGaussian, so the reseed cannot fail; should it ever, the current
// distribution stays in place and sampling keeps working.
func (g *Gaussian) Reset() {
	// reseed error intentionally dropped, see above
	_ = g.reseed()
}

func (g *Gaussian) reseed() error {
	dist, ok := newGaussianDist(g.mean, g.cov)
	if !ok {
		return fmt.Errorf("failed to reseed Gaussian noise")
	}
	g.dist = dist

	return nil
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}

func newGaussianDist(mean []float64, cov mat.Symmetric) (*distmv.Normal, bool) {
	if cov == nil || len(mean) != cov.SymmetricDim() {
		return nil, false
	}
	src := rand.New(rand.NewSource(uint64(time.Now().UnixNano())))

	return distmv.NewNormal(mean, cov, src)
}

// Zero is zero mean, zero covariance noise of a fixed dimension.
type Zero struct {
	// mean stores zero mean values
	mean []float64
	// cov is zero covariance matrix
	cov *mat.SymDense
}

// NewZero creates new zero noise of the given size.
// It returns error if size is negative.
func NewZero(size int) (*Zero, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", size)
	}

	return &Zero{
		mean: make([]float64, size),
		cov:  mat.NewSymDense(size, nil),
	}, nil
}

// Sample returns a zero vector.
func (e *Zero) Sample() mat.Vector {
	return mat.NewVecDense(len(e.mean), nil)
}

// Cov returns a zero covariance matrix.
func (e *Zero) Cov() mat.Symmetric {
	cov := mat.NewSymDense(e.cov.SymmetricDim(), nil)
	cov.CopySym(e.cov)

	return cov
}

// Mean returns the zero mean.
func (e *Zero) Mean() []float64 {
	mean := make([]float64, len(e.mean))
	copy(mean, e.mean)

	return mean
}

// Reset does nothing: it implements the ahrs.Noise interface.
func (e *Zero) Reset() {}

// String implements the Stringer interface.
func (e *Zero) String() string {
	return fmt.Sprintf("Zero{\nMean=%v\nCov=%v\n}", e.Mean(), mat.Formatted(e.Cov(), mat.Prefix("    "), mat.Squeeze()))
}

// None is dimensionless noise: its mean has zero length and its covariance
// is zero size.
type None struct{}

// NewNone creates new None noise and returns it.
func NewNone() (*None, error) {
	return &None{}, nil
}

// Sample returns a zero size vector.
func (e *None) Sample() mat.Vector {
	return &mat.VecDense{}
}

// Cov returns a zero size covariance matrix.
func (e *None) Cov() mat.Symmetric {
	return &mat.SymDense{}
}

// Mean returns a nil mean.
func (e *None) Mean() []float64 {
	return nil
}

// Reset does nothing: it implements the ahrs.Noise interface.
func (e *None) Reset() {}

// String implements the Stringer interface.
func (e *None) String() string {
	return "None{}"
}
