/*
Copyright 2024 CommerceKube.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package helm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Runner executes an external command and returns its standard output.
// It exists so tests can substitute a fake CLI.
type Runner interface {
	Run(ctx context.Context, command string, args ...string) ([]byte, error)
}

// ExecRunner shells out for real.  Child processes inherit the context,
// so graceful shutdown kills any in-flight CLI invocation.
type ExecRunner struct{}

var _ Runner = &ExecRunner{}

// Run executes the command, capturing stdout and stderr separately.  A
// non-zero exit is converted into an ExitError carrying the exit status
// and the stderr text for classification by the caller.
func (ExecRunner) Run(ctx context.Context, command string, args ...string) ([]byte, error) {
	logger := log.FromContext(ctx)

	logger.V(1).Info("exec", "command", command, "args", args)

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	// Timeouts surface as a killed process, report them as such rather
	// than as an opaque exit status.
	if ctx.Err() != nil {
		return stdout.Bytes(), fmt.Errorf("%w: %s", ErrTimeout, command)
	}

	var exitErr *exec.ExitError

	if errors.As(err, &exitErr) {
		return stdout.Bytes(), newExitError(cmd.Path, exitErr.ExitCode(), stderr.String())
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCLINotFound, command)
	}

	return stdout.Bytes(), err
}

// ExitError is created whenever the CLI exits with a non-zero status.
type ExitError struct {
	command    string
	exitStatus int
	stderr     string
}

func newExitError(command string, exitStatus int, stderr string) *ExitError {
	return &ExitError{
		command:    command,
		exitStatus: exitStatus,
		stderr:     strings.TrimSpace(stderr),
	}
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", filepath.Base(e.command), e.exitStatus, e.stderr)
}

// ExitStatus returns the CLI's exit status.
func (e *ExitError) ExitStatus() int {
	return e.exitStatus
}

// Stderr returns the trimmed stderr output.
func (e *ExitError) Stderr() string {
	return e.stderr
}
