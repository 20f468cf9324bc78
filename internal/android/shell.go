// Package android drives a device through its shell, either locally with
// sh or remotely through adb.
package android

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
)

type ShellOptions struct {
	// Local runs commands with the local sh instead of adb.
	Local  bool
	ADB    string
	Serial string
}

// Shell runs shell scripts on the device.
type Shell struct {
	opts ShellOptions
}

func NewShell(opts ShellOptions) *Shell {
	if opts.ADB == "" {
		opts.ADB = "adb"
	}
	return &Shell{opts: opts}
}

// command builds the process for script. Binary output goes through
// exec-out so adb does not translate line endings.
func (s *Shell) command(ctx context.Context, script string, binary bool) *exec.Cmd {
	if s.opts.Local {
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
	var args []string
	if s.opts.Serial != "" {
		args = append(args, "-s", s.opts.Serial)
	}
	if binary {
		args = append(args, "exec-out")
	} else {
		args = append(args, "shell")
	}
	args = append(args, script)
	return exec.CommandContext(ctx, s.opts.ADB, args...)
}

// Output runs script and returns stdout. Stderr is folded into the error.
func (s *Shell) Output(ctx context.Context, script string) ([]byte, error) {
	return s.OutputInput(ctx, script, nil)
}

// OutputInput is Output with stdin fed from in.
func (s *Shell) OutputInput(ctx context.Context, script string, in io.Reader) ([]byte, error) {
	cmd := s.command(ctx, script, false)
	var stderr bytes.Buffer
	cmd.Stdin = in
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w (%s)", firstWord(script), err, msg)
		}
		return out, fmt.Errorf("%s: %w", firstWord(script), err)
	}
	return out, nil
}

func (s *Shell) Run(ctx context.Context, script string) error {
	_, err := s.Output(ctx, script)
	return err
}

// Stream starts script and returns its binary stdout. Stderr lines are
// logged with the given prefix.
func (s *Shell) Stream(ctx context.Context, script, logPrefix string) (io.ReadCloser, *exec.Cmd, error) {
	cmd := s.command(ctx, script, true)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", firstWord(script), err)
	}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Printf("%s: %s", logPrefix, sc.Text())
		}
	}()
	return stdout, cmd, nil
}

func firstWord(script string) string {
	if i := strings.IndexByte(script, ' '); i > 0 {
		return script[:i]
	}
	return script
}

// quote single-quotes s for sh.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// LineShell is a long-lived shell that executes one line at a time. It
// avoids a process spawn per input event.
type LineShell struct {
	sh *Shell

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewLineShell(sh *Shell) *LineShell {
	return &LineShell{sh: sh}
}

func (l *LineShell) start() error {
	cmd := l.sh.command(context.Background(), "sh", false)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start input shell: %w", err)
	}
	l.cmd, l.stdin = cmd, stdin
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Printf("input shell exited: %v", err)
		}
	}()
	return nil
}

// Exec sends line to the shell, restarting it once if the previous one
// has gone away.
func (l *LineShell) Exec(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for attempt := 0; ; attempt++ {
		if l.stdin == nil {
			if err := l.start(); err != nil {
				return err
			}
		}
		_, err := io.WriteString(l.stdin, line+"\n")
		if err == nil {
			return nil
		}
		l.closeLocked()
		if attempt > 0 {
			return fmt.Errorf("input shell: %w", err)
		}
	}
}

func (l *LineShell) closeLocked() {
	if l.stdin != nil {
		l.stdin.Close()
		l.stdin = nil
	}
	if l.cmd != nil && l.cmd.Process != nil {
		l.cmd.Process.Kill()
	}
	l.cmd = nil
}

func (l *LineShell) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	return nil
}
