package mesh

import (
	"errors"
	"log"
)

var (
	// ErrJacobiNoConvergence is returned when the eigensolver exhausts its
	// sweeps. It aborts the whole registration run.
	ErrJacobiNoConvergence = errors.New("jacobi: too many iterations")
	// ErrTooFewVertices is returned when a mesh cannot support a fit at all.
	ErrTooFewVertices = errors.New("fewer than 3 vertices available")

	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	ErrDegenerateTriangle          = errors.New("degenerate triangle")
	ErrNoCandidateFaces            = errors.New("no usable candidate faces")
	ErrTooFewPairs                 = errors.New("rigid fit needs at least 3 pairs")

	ErrUnknownWeightPolicy  = errors.New("unknown weight policy")
	ErrFeatureWidthMismatch = errors.New("feature width mismatch")
)

// IsFatal reports whether err must abort a registration run rather than
// just the current trial.
func IsFatal(err error) bool {
	return errors.Is(err, ErrJacobiNoConvergence) || errors.Is(err, ErrTooFewVertices)
}

// Logf is the package logger. Replace it with SetLogger to redirect or mute
// progress output.
var Logf = log.Printf

// SetLogger sets the package logger; nil discards all output.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = func(string, ...any) {}
		return
	}
	Logf = f
}
