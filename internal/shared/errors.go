package shared

import (
	"errors"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds shared by every domain package. Domain errors wrap one of these
// so the transport layer can map them without knowing the domain.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState indicates an operation not permitted from the current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrConflict indicates an optimistic concurrency version mismatch.
	ErrConflict = errors.New("version conflict")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrBudgetUnavailable indicates the budget gate denied an operation.
	ErrBudgetUnavailable = errors.New("budget unavailable")
	// ErrUnauthorized indicates a missing or invalid caller identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller lacks a permission.
	ErrForbidden = errors.New("forbidden")
)

// FieldErrors carries per-field validation messages and unwraps to ErrValidation.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	if len(f) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + f.detail()
}

func (f FieldErrors) detail() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (f FieldErrors) Unwrap() error {
	return ErrValidation
}

type invalidFields struct {
	kind   error
	fields FieldErrors
}

func (e invalidFields) Error() string {
	if len(e.fields) == 0 {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.fields.detail()
}

func (e invalidFields) Unwrap() []error {
	return []error{e.kind, e.fields}
}

// InvalidFields attaches field errors to a domain validation sentinel. The result
// matches kind with errors.Is and yields the FieldErrors with errors.As.
func InvalidFields(kind error, fields FieldErrors) error {
	return invalidFields{kind: kind, fields: fields}
}

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
