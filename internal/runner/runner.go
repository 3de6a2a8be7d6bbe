// Package runner launches the external commands the control panel depends on:
// fire-and-forget shell command lines, captured listings, and the streamed
// update script.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures a Runner. Empty fields fall back to sh and bash.
type Options struct {
	Shell       string
	Interpreter string
	Logger      *zerolog.Logger
}

// Runner executes commands on the host.
type Runner struct {
	shell       string
	interpreter string
	logger      *zerolog.Logger
}

// New returns a Runner. Empty shell and interpreter default to sh and bash.
func New(opts Options) *Runner {
	r := &Runner{
		shell:       opts.Shell,
		interpreter: opts.Interpreter,
		logger:      opts.Logger,
	}
	if r.shell == "" {
		r.shell = "sh"
	}
	if r.interpreter == "" {
		r.interpreter = "bash"
	}
	if r.logger == nil {
		nop := zerolog.Nop()
		r.logger = &nop
	}
	return r
}

// RunOnce executes commandLine through the shell and waits for it. Output is
// discarded. Success and failure are both logged; a non-zero exit is returned
// as an *exec.ExitError wrapped with the command line.
func (r *Runner) RunOnce(ctx context.Context, commandLine string) error {
	cmd := exec.CommandContext(ctx, r.shell, "-c", commandLine)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("command", commandLine).
			Int("exit_code", ExitCode(err)).
			Str("output", strings.TrimSpace(string(out))).
			Msg("command failed")
		return fmt.Errorf("running %q: %w", commandLine, err)
	}
	r.logger.Info().Str("command", commandLine).Msg("command succeeded")
	return nil
}

// Output runs name with args directly and returns its standard output.
func (r *Runner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("running %s: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Result describes a finished streamed run.
type Result struct {
	ExitCode int
	Lines    int
}

// StreamApply runs `<interpreter> scriptPath --once` with stderr merged into
// stdout. Each output line, right-trimmed, is passed to sink in order. It
// returns once the output stream is closed and the process has exited.
//
// A script that exits non-zero is not an error: the code is reported in
// Result.ExitCode. The error is non-nil only when the script could not be
// started or its output could not be read.
func (r *Runner) StreamApply(ctx context.Context, scriptPath string, sink func(string)) (Result, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("creating output pipe: %w", err)
	}
	defer pr.Close()

	cmd := exec.CommandContext(ctx, r.interpreter, scriptPath, "--once")
	cmd.Stdout = pw
	cmd.Stderr = pw

	r.logger.Info().Str("script", scriptPath).Msg("update script started")
	if err := cmd.Start(); err != nil {
		pw.Close()
		r.logger.Error().Err(err).Str("script", scriptPath).Msg("update script failed to start")
		return Result{ExitCode: -1}, fmt.Errorf("starting %s: %w", scriptPath, err)
	}
	// The child holds its own copy; ours must go so the reader sees EOF.
	pw.Close()

	var res Result
	readErr := forwardLines(pr, func(line string) {
		res.Lines++
		if sink != nil {
			sink(line)
		}
	})

	waitErr := cmd.Wait()
	res.ExitCode = ExitCode(waitErr)

	if readErr != nil {
		return res, fmt.Errorf("reading output of %s: %w", scriptPath, readErr)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, fmt.Errorf("waiting for %s: %w", scriptPath, waitErr)
	}

	ev := r.logger.Info()
	if res.ExitCode != 0 {
		ev = r.logger.Warn()
	}
	ev.Str("script", scriptPath).Int("exit_code", res.ExitCode).Int("lines", res.Lines).Msg("update script finished")
	return res, nil
}

// forwardLines reads newline-delimited text from rd until EOF. A final line
// without a trailing newline is still forwarded.
func forwardLines(rd io.Reader, sink func(string)) error {
	br := bufio.NewReader(rd)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			sink(strings.TrimRight(line, " \t\r\n"))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// ExitCode extracts the process exit status from an error returned by
// os/exec: 0 for nil, the status for an *exec.ExitError, -1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Command joins name and args into a shell command line, single-quoting any
// word that contains characters the shell would interpret.
func Command(name string, args ...string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, quote(name))
	for _, a := range args {
		words = append(words, quote(a))
	}
	return strings.Join(words, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("@%+=:,./_-", c):
		default:
			safe = false
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
