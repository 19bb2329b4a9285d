package placementapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
)

// Error is an error response of the API.
// Message is set for {"error": "..."} bodies, Fields for field validation errors.
type Error struct {
	StatusCode int
	Message    string
	Fields     map[string]string

	// known is the domain error the response stands for, if any.
	known error
}

// knownErrors are recognized by their message.
var knownErrors = []error{
	placement.ErrNoActivePeriod,
	placement.ErrPeriodNotFound,
	placement.ErrCandidateNotFound,
	placement.ErrHostNotFound,
	placement.ErrSupervisorNotFound,
	placement.ErrAssignmentNotFound,
	placement.ErrAlreadyAssigned,
	placement.ErrHostAtCapacity,
	user.ErrNotFound,
}

func newError(code int, body string) *Error {
	e := &Error{StatusCode: code}

	var data map[string]string
	if err := json.Unmarshal([]byte(body), &data); err != nil || len(data) == 0 {
		e.Message = strings.TrimSpace(body)
		if e.Message == "" {
			e.Message = strings.ToLower(http.StatusText(code))
		}
	} else if msg, ok := data["error"]; ok && len(data) == 1 {
		e.Message = msg
	} else {
		e.Fields = data
	}

	for _, known := range knownErrors {
		if e.Message == known.Error() {
			e.known = known
			break
		}
		for _, msg := range e.Fields {
			if msg == known.Error() {
				e.known = known
			}
		}
	}
	return e
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Fields) == 1 {
		for _, msg := range e.Fields {
			return msg
		}
	}

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return strings.Join(parts, ", ")
}

// Unwrap gives access to the matching domain error, e.g. placement.ErrHostAtCapacity.
func (e *Error) Unwrap() error { return e.known }

// IsStatus reports whether err is an API Error with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
