package engine

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeUnknownWorkflow        = "WF_UNKNOWN_WORKFLOW"
	ErrCodeUnknownTransition      = "WF_UNKNOWN_TRANSITION"
	ErrCodeUnknownAction          = "WF_UNKNOWN_ACTION"
	ErrCodeUnknownGuard           = "WF_UNKNOWN_GUARD"
	ErrCodeGuardRejected          = "WF_GUARD_REJECTED"
	ErrCodeInstanceTerminated     = "WF_INSTANCE_TERMINATED"
	ErrCodeInstanceNotFound       = "WF_INSTANCE_NOT_FOUND"
	ErrCodeTaskNotFound           = "WF_TASK_NOT_FOUND"
	ErrCodeActionFailed           = "WF_ACTION_FAILED"
	ErrCodeActionTimeout          = "WF_ACTION_TIMEOUT"
	ErrCodeConcurrentModification = "WF_CONCURRENT_MODIFICATION"
	ErrCodePreconditionFailed     = "WF_PRECONDITION_FAILED"
)

var (
	ErrUnknownWorkflow = apperrors.New("unknown workflow", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownWorkflow)
	ErrUnknownTransition = apperrors.New("unknown transition", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownTransition)
	ErrUnknownAction = apperrors.New("unknown action type", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownAction)
	ErrUnknownGuard = apperrors.New("unknown guard", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownGuard)
	ErrGuardRejected = apperrors.New("guard rejected", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeGuardRejected)
	ErrInstanceTerminated = apperrors.New("instance already terminated", apperrors.CategoryConflict).
				WithTextCode(ErrCodeInstanceTerminated)
	ErrInstanceNotFound = apperrors.New("instance not found", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInstanceNotFound)
	ErrTaskNotFound = apperrors.New("task not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeTaskNotFound)
	ErrActionFailed = apperrors.New("action execution failed", apperrors.CategoryHandler).
			WithTextCode(ErrCodeActionFailed)
	ErrActionTimeout = apperrors.New("action timed out", apperrors.CategoryExternal).
				WithTextCode(ErrCodeActionTimeout)
	ErrConcurrentModification = apperrors.New("instance modified concurrently", apperrors.CategoryConflict).
					WithTextCode(ErrCodeConcurrentModification)
	ErrPreconditionFailed = apperrors.New("precondition failed", apperrors.CategoryBadInput).
				WithTextCode(ErrCodePreconditionFailed)
)

func cloneRuntimeError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrPreconditionFailed
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
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

// IsGuardRejected reports whether err is an explicit transition request
// blocked by a guard.
func IsGuardRejected(err error) bool {
	return ErrorCode(err) == ErrCodeGuardRejected
}

// IsTerminated reports whether err is an operation attempted on a completed,
// failed, or aborted instance.
func IsTerminated(err error) bool {
	return ErrorCode(err) == ErrCodeInstanceTerminated
}

// IsConcurrentModification reports whether err is an optimistic-lock
// revision mismatch.
func IsConcurrentModification(err error) bool {
	return ErrorCode(err) == ErrCodeConcurrentModification
}
