package format

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a puzzlefs error. The teacher's own
// errors.go is a flat list of package-level sentinel values
// (ErrInvalidFile, ErrInvalidSuper, ...) matched individually with
// errors.Is; Kind generalizes that "a closed set of sentinels for
// errors.Is" idiom into a single enumerated type so every *Error carries
// its category instead of being its own distinct sentinel.
type Kind int

const (
	// NotFound covers an absent tag, inode or blob.
	NotFound Kind = iota
	// InvalidImageVersion means the oci-layout version string didn't match.
	InvalidImageVersion
	// InvalidMetadata means a metadata/rootfs blob failed to decode.
	InvalidMetadata
	// InvalidFsVerityData means an integrity fingerprint was missing or
	// didn't match what was recorded.
	InvalidFsVerityData
	// InvalidChunkerParams means (min, avg, max) failed validation.
	InvalidChunkerParams
	// AlreadyExists means a blob digest collided with different content.
	AlreadyExists
	// IO wraps an underlying I/O failure.
	IO
	// UnsupportedOperation means a write (or other mutating call) was
	// attempted against the read-only filesystem.
	UnsupportedOperation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case InvalidImageVersion:
		return "invalid image version"
	case InvalidMetadata:
		return "invalid metadata"
	case InvalidFsVerityData:
		return "invalid fs-verity data"
	case InvalidChunkerParams:
		return "invalid chunker parameters"
	case AlreadyExists:
		return "already exists"
	case IO:
		return "I/O error"
	case UnsupportedOperation:
		return "unsupported operation"
	default:
		return "unknown error"
	}
}

// Error is a puzzlefs error carrying a Kind for errors.Is-style matching
// plus a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is lets errors.Is(err, format.New(kind, "")) match any *Error of the same
// Kind, whatever its message.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given Kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf constructs an *Error of the given Kind with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err, if it (or something in its chain) is a
// *Error, and ok=true. Otherwise returns the zero Kind and ok=false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err's chain contains a *Error of the given Kind,
// mirroring errors.Is(err, format.New(kind, "")).
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
