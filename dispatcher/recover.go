package dispatcher

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// ErrCodeHandlerPanic tags handler panics converted to errors by Publish.
const ErrCodeHandlerPanic = "EVENT_HANDLER_PANIC"

// safeHandle invokes the handler and converts a panic into an error so one
// misbehaving subscriber cannot take the bus down.
func safeHandle(ctx context.Context, evt Event, h Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			stack := make([]byte, 8096)
			n := runtime.Stack(stack, false)

			err = apperrors.New(
				fmt.Sprintf("handler panicked for event %s: %v", evt.Type, p),
				apperrors.CategoryHandler,
			).WithTextCode(ErrCodeHandlerPanic).WithMetadata(map[string]any{
				"event": evt.Type,
				"panic": fmt.Sprintf("%v", p),
				"stack": string(trimStack(stack[:n])),
			})
		}
	}()
	return h.Handle(ctx, evt)
}

// trimStack drops the frames above the panic call so the trace starts at
// the handler that blew up.
func trimStack(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLine := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLine = i
			break
		}
	}

	// skip the panic() call line and its file reference line
	if panicLine >= 0 && panicLine+2 < len(lines) {
		lines = lines[panicLine+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
