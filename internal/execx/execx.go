// Package execx runs external commands for kiln.
//
// Every line a command writes is logged as it arrives and also captured, so
// that a failing command can be reported with its full output. A non-zero exit
// is returned as *ExitError, which matches errdefs.ErrSubprocess.
package execx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/errdefs"
	"github.com/jbweber/kiln/internal/logging"
)

// LinePrefix marks streamed subprocess output in the log.
const LinePrefix = ">> "

// Result holds the captured output of a finished command.
type Result struct {
	Stdout string
	Stderr string
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)
}

// ExitError describes a command that could not be started or exited non-zero.
type ExitError struct {
	Command string
	// Code is -1 when the command never started.
	Code   int
	Stdout string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q failed with exit code %d", e.Command, e.Code)
	if e.Code < 0 && e.Err != nil {
		msg = fmt.Sprintf("command %q failed to start: %v", e.Command, e.Err)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\nOutput: " + stderr
	}
	return msg
}

// Unwrap exposes both the subprocess sentinel and the underlying error.
func (e *ExitError) Unwrap() []error {
	return []error{errdefs.ErrSubprocess, e.Err}
}

// Exec runs commands on the host with os/exec.
type Exec struct {
	log logrus.FieldLogger
}

// New returns an Exec that streams output lines to log at Info.
func New(log logrus.FieldLogger) *Exec {
	return &Exec{log: logging.OrDiscard(log)}
}

// Run starts name with args and waits for it to finish.
func (e *Exec) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmdline := CommandLine(name, args...)
	e.log.Debugf("Running %s", cmdline)

	cmd := exec.CommandContext(ctx, name, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout of %s: %w", name, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr of %s: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &ExitError{Command: cmdline, Code: -1, Err: err}
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.stream(stdoutPipe, &stdout)
	}()
	go func() {
		defer wg.Done()
		e.stream(stderrPipe, &stderr)
	}()
	wg.Wait()

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err := cmd.Wait(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return res, &ExitError{
			Command: cmdline,
			Code:    code,
			Stdout:  res.Stdout,
			Stderr:  res.Stderr,
			Err:     err,
		}
	}

	return res, nil
}

func (e *Exec) stream(r io.Reader, buf *bytes.Buffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		e.log.Info(LinePrefix + line)
	}
	// Drain whatever the scanner refused so the child never blocks on a full pipe.
	_, _ = io.Copy(buf, r)
}

// CommandLine renders name and args for log and error messages.
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

// LogFailure writes the captured output of a failed command at Error, line by
// line. Errors that are not *ExitError are ignored.
func LogFailure(log logrus.FieldLogger, err error) {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return
	}
	for _, stream := range []struct {
		name string
		text string
	}{
		{"stdout", exitErr.Stdout},
		{"stderr", exitErr.Stderr},
	} {
		if stream.text == "" {
			continue
		}
		log.Errorf("%s of %s:", stream.name, exitErr.Command)
		for _, line := range strings.Split(strings.TrimRight(stream.text, "\n"), "\n") {
			log.Error(LinePrefix + line)
		}
	}
}
