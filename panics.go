package process

import (
	"fmt"
	"runtime"
	"strings"
)

// RecoverError turns a panic raised while running name into an internal
// error stored in errp. It must be deferred directly.
func RecoverError(name string, errp *error) {
	r := recover()
	if r == nil {
		return
	}
	stack := make([]byte, 8096)
	n := runtime.Stack(stack, false)
	err := NewError(ErrInternal, fmt.Sprintf("recovered from panic in %s: %v", name, r), nil, map[string]any{
		"panic": fmt.Sprintf("%v", r),
		"stack": string(cleanStackTrace(stack[:n])),
	})
	if cause, ok := r.(error); ok {
		err.Source = cause
	}
	if errp != nil {
		*errp = err
	}
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}
	// drop the panic() frame and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}
	return []byte(strings.Join(lines, "\n"))
}
