package errs

import "errors"

// Kind is the outcome class reported to callers of the public entry points.
type Kind int

const (
	KindOK Kind = iota
	KindValidation
	KindConflict
	KindForbidden
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindOf classifies err. Anything not recognised is internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindForbidden
	default:
		return KindInternal
	}
}

// Reason returns the short wire reason for validation and conflict errors,
// or "" for other kinds.
func Reason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	if errors.Is(err, ErrAlreadyExists) {
		return "account_exists"
	}
	return ""
}
