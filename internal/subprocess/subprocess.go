// Package subprocess runs the opaque external tools every pipeline
// stage invokes (schema validator, serializer, integrity checker,
// context builder, overview builder) and interprets their exit code
// under the one convention shared by all of them (§4.9).
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/google/uuid"
)

// comments maps the shared exit-code convention to a human-readable
// outcome. Codes outside this table are "generic" (§4.9).
var comments = map[int]string{
	0:   "success",
	100: "bad arguments",
	101: "database properties missing",
	102: "missing xml path",
	103: "database connection failure",
	104: "serialization failure",
}

// Comment returns the descriptive comment for an exit code, recorded
// verbatim into SessionTask/log rows.
func Comment(exitCode int) string {
	if c, ok := comments[exitCode]; ok {
		return c
	}
	return fmt.Sprintf("generic failure (exit %d)", exitCode)
}

// Result is one subprocess invocation's outcome. CorrelationID is not
// persisted anywhere in the tracker schema; it exists purely so a
// sequence of log lines spanning one invocation can be grepped
// together, the same role uuid.NewString plays throughout the teacher.
type Result struct {
	CorrelationID string
	ExitCode      int
	Comment       string
	Stdout        string
	Stderr        string
}

// Run launches name with args and waits for it to exit. A non-zero exit
// code is carried in Result, not returned as an error — only a failure
// to launch the process at all is a Go error.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	correlationID := uuid.NewString()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("failed to launch %s: %w", name, runErr)
		}
	}

	return Result{
		CorrelationID: correlationID,
		ExitCode:      exitCode,
		Comment:       Comment(exitCode),
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
	}, nil
}
