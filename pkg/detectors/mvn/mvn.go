// Package mvn provides the multivariate-normal density computations shared
// by the Gaussian detectors. Log-densities are evaluated through a Cholesky
// factorization of the covariance matrix, which also decides model validity:
// a covariance that fails to factorize is degenerate.
package mvn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/hmori/odkit/pkg/detectors"
)

// Log2Pi is log(2*pi), the per-dimension normalizing constant of the
// Gaussian log-density.
const Log2Pi = 1.8378770664093454835606594728112353

// Normal is a fitted multivariate normal distribution.
type Normal struct {
	mean []float64
	chol mat.Cholesky
	dim  int

	logDet float64
}

// New builds a Normal from a mean vector and covariance matrix. It returns
// ErrDegenerateModel if the covariance is singular or not positive definite.
func New(mean []float64, cov *mat.SymDense) (*Normal, error) {
	d := len(mean)
	if cov.SymmetricDim() != d {
		return nil, fmt.Errorf("%w: mean has %d features, covariance is %dx%d",
			detectors.ErrInvalidInput, d, cov.SymmetricDim(), cov.SymmetricDim())
	}

	n := &Normal{mean: mean, dim: d}
	if ok := n.chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("%w: singular covariance matrix", detectors.ErrDegenerateModel)
	}
	n.logDet = n.chol.LogDet()
	return n, nil
}

// Dim returns the dimensionality of the distribution.
func (n *Normal) Dim() int { return n.dim }

// Mean returns the mean vector. The returned slice is owned by the Normal.
func (n *Normal) Mean() []float64 { return n.mean }

// LogDet returns the log-determinant of the covariance matrix.
func (n *Normal) LogDet() float64 { return n.logDet }

// MahalanobisSq returns the squared Mahalanobis distance of x from the mean.
func (n *Normal) MahalanobisSq(x []float64) float64 {
	diff := mat.NewVecDense(n.dim, nil)
	for i := range n.mean {
		diff.SetVec(i, x[i]-n.mean[i])
	}
	var solved mat.VecDense
	if err := n.chol.SolveVecTo(&solved, diff); err != nil {
		// Factorize succeeded, so the solve cannot fail.
		panic(err)
	}
	return mat.Dot(diff, &solved)
}

// LogProb returns the log-density of the distribution at x.
func (n *Normal) LogProb(x []float64) float64 {
	return -0.5 * (n.MahalanobisSq(x) + n.logDet + float64(n.dim)*Log2Pi)
}

// NegLogProb returns the negative log-density at x, the anomaly score of
// the Gaussian family.
func (n *Normal) NegLogProb(x []float64) float64 {
	return -n.LogProb(x)
}

// PrecisionDiag returns the diagonal of the precision (inverse covariance)
// matrix. Used for approximate feature-wise score decomposition.
func (n *Normal) PrecisionDiag() []float64 {
	var prec mat.SymDense
	if err := n.chol.InverseTo(&prec); err != nil {
		panic(err)
	}
	diag := make([]float64, n.dim)
	for i := range diag {
		diag[i] = prec.At(i, i)
	}
	return diag
}

// MLECovariance computes the maximum-likelihood (1/n normalized) sample mean
// and covariance of data.
func MLECovariance(data [][]float64) (mean []float64, cov *mat.SymDense) {
	n := len(data)
	d := len(data[0])

	mean = make([]float64, d)
	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	cov = mat.NewSymDense(d, nil)
	centered := make([]float64, d)
	for _, row := range data {
		for j := range centered {
			centered[j] = row[j] - mean[j]
		}
		for j := 0; j < d; j++ {
			for k := j; k < d; k++ {
				cov.SetSym(j, k, cov.At(j, k)+centered[j]*centered[k])
			}
		}
	}
	for j := 0; j < d; j++ {
		for k := j; k < d; k++ {
			cov.SetSym(j, k, cov.At(j, k)/float64(n))
		}
	}
	return mean, cov
}
