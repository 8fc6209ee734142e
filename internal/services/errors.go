package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dkomics/church-portal/internal/models"
)

var (
	// ErrAccessDenied: the user lacks the role or branch access for the operation.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidBranchContext: the selected branch is missing or inactive. The
	// context is cleared and callers continue with no context.
	ErrInvalidBranchContext = errors.New("invalid branch context")
	// ErrDuplicateMembershipID: a concurrent registration took the identifier
	// and the retry conflicted as well. Transient.
	ErrDuplicateMembershipID = errors.New("duplicate membership id")
	// ErrSequenceExhausted: the branch/year bucket reached sequence 9999.
	ErrSequenceExhausted = errors.New("membership sequence exhausted")
	ErrInvalidRole       = models.ErrInvalidRole
	ErrValidation        = errors.New("validation failed")
	ErrNoProfile         = errors.New("user has no profile")
	ErrAuditWrite        = errors.New("audit write failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")

	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountDisabled    = errors.New("account is disabled")
)

// ValidationError rejects a write with one explanation per field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

// orNil returns e only when at least one field was rejected.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// auditFailure reports an audit write that failed after the action itself
// succeeded. Both the action outcome and the cause stay visible to callers.
func auditFailure(action models.AuditAction, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrAuditWrite, action, err)
}
