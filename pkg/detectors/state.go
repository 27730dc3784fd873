package detectors

import "fmt"

// FittedState tracks whether a detector has completed fitting and the
// dimensionality it was fitted with. Detectors embed it and gate every
// scoring entry point through RequireFitted; this keeps the precondition in
// one place instead of per-algorithm flag checks.
//
// FittedState does no locking. A fitted detector is safe for concurrent
// reads because scoring never mutates it, but concurrent Fit calls on the
// same instance must be serialized by the caller.
type FittedState struct {
	fitted    int
	nFeatures int
}

const (
	stateUnfitted = iota
	stateFitted
)

// MarkFitted records a successful fit with the given feature count. All
// fitted parameters of the embedding detector must be in place before this
// is called, so that fitted state and parameters change atomically from the
// caller's point of view.
func (s *FittedState) MarkFitted(nFeatures int) {
	s.fitted = stateFitted
	s.nFeatures = nFeatures
}

// Reset returns the detector to the unfitted state.
func (s *FittedState) Reset() {
	s.fitted = stateUnfitted
	s.nFeatures = 0
}

// IsFitted reports whether a successful fit has completed.
func (s *FittedState) IsFitted() bool { return s.fitted == stateFitted }

// NumFeatures returns the feature count seen during fitting, or 0 if the
// detector is unfitted.
func (s *FittedState) NumFeatures() int { return s.nFeatures }

// RequireFitted returns ErrNotFitted unless MarkFitted has been called.
func (s *FittedState) RequireFitted() error {
	if s.fitted != stateFitted {
		return ErrNotFitted
	}
	return nil
}

// CheckWidth verifies that input data has the fitted feature count.
func (s *FittedState) CheckWidth(nFeatures int) error {
	if nFeatures != s.nFeatures {
		return fmt.Errorf("%w: expected %d features, got %d", ErrInvalidInput, s.nFeatures, nFeatures)
	}
	return nil
}
