package transform

import "errors"

// Failures callers are expected to branch on. Everything here is a normal,
// synchronously reported condition, never fatal.
var (
	// ErrDuplicateName: a transformer with this name (case-insensitively)
	// is already registered.
	ErrDuplicateName = errors.New("transformer already registered")

	// ErrUnknownTransformer: no registered transformer has this name.
	ErrUnknownTransformer = errors.New("no such transformer")

	// ErrKindActive: the set already carries a transformation of this kind.
	ErrKindActive = errors.New("transformation of this kind already active")

	// ErrOrdering: encryption requested after compression is active.
	// Transformations stack onto the descriptor pair in installation order
	// and a new layer can never be inserted beneath an existing one, so
	// encryption, which must wrap the raw transport, has to come first.
	ErrOrdering = errors.New("encryption must be enabled before compression")

	// ErrSetFull: all transformation slots are occupied. The caller decides
	// whether to proceed without the transform.
	ErrSetFull = errors.New("no free transformation slot")

	// ErrNoTransformer: no registered transformer matches the requested
	// kind and direction. Inherently race-prone against concurrent
	// (un)registration; tolerated as a normal failure.
	ErrNoTransformer = errors.New("no suitable transformer")

	// ErrNotActive: no transformation of the requested kind is active.
	ErrNotActive = errors.New("no active transformation of this kind")
)
