package workflow

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInvalidDefinition = "WF_INVALID_DEFINITION"
	ErrCodeDuplicateVersion  = "WF_DUPLICATE_VERSION"
	ErrCodeDefinitionParse   = "WF_DEFINITION_PARSE"
)

var (
	ErrInvalidDefinition = apperrors.New("invalid workflow definition", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidDefinition)
	ErrDuplicateVersion = apperrors.New("workflow version already registered", apperrors.CategoryConflict).
				WithTextCode(ErrCodeDuplicateVersion)
)

func invalidDefinition(message string, metadata map[string]any) *apperrors.Error {
	err := ErrInvalidDefinition.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode extracts the text code from a categorized error, or "" when the
// error carries none.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsInvalidDefinition reports whether err is a registration-time structural
// rejection.
func IsInvalidDefinition(err error) bool {
	return ErrorCode(err) == ErrCodeInvalidDefinition
}
