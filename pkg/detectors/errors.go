package detectors

import "errors"

// Error taxonomy shared by all detectors. Callers match with errors.Is;
// individual detectors wrap these with context.
var (
	// ErrInvalidParameter indicates a hyperparameter outside its valid
	// domain (e.g. a false-positive rate outside [0, 1]). Returned at
	// construction, never deferred to fit time.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotFitted indicates a scoring, classification or analysis call on
	// a detector that has not completed a successful Fit.
	ErrNotFitted = errors.New("detector is not fitted")

	// ErrInvalidInput indicates malformed input data: empty or ragged
	// matrices, non-finite values, a feature count that does not match the
	// fitted dimensionality, or rows that cannot be unit-normalized where a
	// directional model requires it.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDegenerateModel indicates the estimation procedure cannot produce
	// a valid model, such as a singular covariance matrix or a mixture
	// component collapsing onto a single point.
	ErrDegenerateModel = errors.New("degenerate model")

	// ErrUnsupportedOperation indicates a capability the detector does not
	// provide, such as feature-wise analysis on a mixture model.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)
