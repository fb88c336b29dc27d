package domain

// Error kinds surfaced by the core. Every rejected operation carries a
// reason string suitable for direct user display; the HTTP layer maps the
// kinds to status codes.

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Invalid builds a ValidationError.
func Invalid(reason string) error { return &ValidationError{Reason: reason} }

type StateConflictError struct {
	Reason string
}

func (e *StateConflictError) Error() string { return e.Reason }

// StateConflict builds a StateConflictError.
func StateConflict(reason string) error { return &StateConflictError{Reason: reason} }

type NotFoundError struct {
	Reason string
}

func (e *NotFoundError) Error() string { return e.Reason }

// NotFound builds a NotFoundError.
func NotFound(reason string) error { return &NotFoundError{Reason: reason} }
