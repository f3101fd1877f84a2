package database

import (
	"errors"
	"regexp"
	"strings"
)

var ErrUniqueViolation = errors.New("unique constraint violated")

type ConstraintError struct {
	Type    string
	Table   string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	return e.Message
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var uniquePattern = regexp.MustCompile(`UNIQUE constraint failed: ([^\s]+)`)

// ClassifyError turns SQLite constraint failures into typed errors so
// callers can test with errors.Is instead of string matching.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	if matches := uniquePattern.FindStringSubmatch(err.Error()); len(matches) == 2 {
		parts := strings.Split(matches[1], ".")
		ce := &ConstraintError{
			Type:    "unique",
			Cause:   ErrUniqueViolation,
			Message: "A record with this value already exists",
		}
		if len(parts) == 2 {
			ce.Table = parts[0]
			ce.Column = parts[1]
			ce.Message = "A record with this '" + parts[1] + "' already exists"
		}
		return ce
	}

	return err
}

func IsUniqueError(err error) bool {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Type == "unique"
	}
	return false
}
