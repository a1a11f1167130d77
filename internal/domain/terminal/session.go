package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/termwright/opsagent/pkg/safego"
)

// Session is the Terminal interface the engine depends on:
// it never assumes it owns the raw buffer, it always asks.
type Session interface {
	ID() string
	Kind() PTYKind
	Write(ctx context.Context, data []byte) error
	ReadBuffer(lastN int) []string
	LastOutputAge() time.Duration
	Resize(cols, rows int) error
	ShellKind() string
	Close() error
}

// ringBuffer stores the last maxLines lines of terminal output plus a
// timestamp of the most recent append, shared by PTYSession and
// SSHSession.
type ringBuffer struct {
	mu         sync.Mutex
	lines      []string
	partial    strings.Builder
	maxLines   int
	lastAppend time.Time
}

func newRingBuffer(maxLines int) *ringBuffer {
	return &ringBuffer{maxLines: maxLines, lastAppend: time.Now()}
}

func (r *ringBuffer) append(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAppend = time.Now()
	r.partial.Write(chunk)
	buf := r.partial.String()
	parts := strings.Split(buf, "\n")
	// Keep the trailing partial line (no newline yet) unflushed.
	for _, p := range parts[:len(parts)-1] {
		r.lines = append(r.lines, StripANSI(p))
	}
	if len(r.lines) > r.maxLines {
		r.lines = r.lines[len(r.lines)-r.maxLines:]
	}
	r.partial.Reset()
	r.partial.WriteString(parts[len(parts)-1])
}

func (r *ringBuffer) snapshot(lastN int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, lastN)
	out = append(out, r.lines...)
	if r.partial.Len() > 0 {
		out = append(out, StripANSI(r.partial.String()))
	}
	if lastN > 0 && len(out) > lastN {
		out = out[len(out)-lastN:]
	}
	return out
}

func (r *ringBuffer) age() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastAppend)
}

const defaultRingLines = 200

// PTYSession drives a local pseudo-terminal via github.com/creack/pty.
type PTYSession struct {
	id     string
	cmd    *exec.Cmd
	file   *os.File
	buf    *ringBuffer
	logger *zap.Logger
	shell  string
}

// NewPTYSession spawns shell (e.g. "bash", "/bin/sh") behind a PTY and
// starts tailing its output into a ring buffer.
func NewPTYSession(ctx context.Context, id, shell string, cols, rows int, logger *zap.Logger) (*PTYSession, error) {
	if shell == "" {
		shell = "bash"
	}
	cmd := exec.CommandContext(ctx, shell)
	cmd.Env = os.Environ()

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	s := &PTYSession{
		id:     id,
		cmd:    cmd,
		file:   f,
		buf:    newRingBuffer(defaultRingLines),
		logger: logger,
		shell:  shell,
	}
	safego.Go(logger, "pty-pump-"+id, s.pump)
	return s, nil
}

func (s *PTYSession) pump() {
	chunk := make([]byte, 4096)
	for {
		n, err := s.file.Read(chunk)
		if n > 0 {
			s.buf.append(chunk[:n])
		}
		if err != nil {
			if err != io.EOF && s.logger != nil {
				s.logger.Debug("pty read ended", zap.String("session", s.id), zap.Error(err))
			}
			return
		}
	}
}

func (s *PTYSession) ID() string        { return s.id }
func (s *PTYSession) Kind() PTYKind     { return PTYKindLocal }
func (s *PTYSession) ShellKind() string { return s.shell }

func (s *PTYSession) Write(ctx context.Context, data []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.file.Write(data)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *PTYSession) ReadBuffer(lastN int) []string { return s.buf.snapshot(lastN) }
func (s *PTYSession) LastOutputAge() time.Duration  { return s.buf.age() }

func (s *PTYSession) Resize(cols, rows int) error {
	return pty.Setsize(s.file, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (s *PTYSession) Close() error {
	_ = s.file.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return nil
}

// SSHSession drives a remote terminal over golang.org/x/crypto/ssh
// with an allocated pty (requested via session.RequestPty).
type SSHSession struct {
	id     string
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	buf    *ringBuffer
	logger *zap.Logger
	shell  string
}

// SSHConfig describes how to reach a remote host.
type SSHConfig struct {
	Addr           string
	User           string
	Password       string // optional
	PrivateKeyPEM  []byte // optional, takes precedence over Password
	HostKeyCheck   ssh.HostKeyCallback
	ConnectTimeout time.Duration
}

// NewSSHSession dials a remote host, allocates a PTY-backed shell, and
// starts tailing its output.
func NewSSHSession(id string, cfg SSHConfig, cols, rows int, logger *zap.Logger) (*SSHSession, error) {
	var auths []ssh.AuthMethod
	if len(cfg.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auths = append(auths, ssh.Password(cfg.Password))
	}

	hostKeyCB := cfg.HostKeyCheck
	if hostKeyCB == nil {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", cfg.Addr, err)
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ssh new session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	buf := newRingBuffer(defaultRingLines)
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &SSHSession{
		id:     id,
		client: client,
		sess:   sess,
		stdin:  stdin,
		buf:    buf,
		logger: logger,
		shell:  "unknown",
	}
	safego.Go(logger, "ssh-pump-"+id, func() { s.pump(stdout) })
	return s, nil
}

func (s *SSHSession) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.buf.append(chunk[:n])
		}
		if err != nil {
			if err != io.EOF && s.logger != nil {
				s.logger.Debug("ssh read ended", zap.String("session", s.id), zap.Error(err))
			}
			return
		}
	}
}

func (s *SSHSession) ID() string        { return s.id }
func (s *SSHSession) Kind() PTYKind     { return PTYKindSSH }
func (s *SSHSession) ShellKind() string { return s.shell }

func (s *SSHSession) Write(ctx context.Context, data []byte) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.stdin.Write(data)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *SSHSession) ReadBuffer(lastN int) []string { return s.buf.snapshot(lastN) }
func (s *SSHSession) LastOutputAge() time.Duration  { return s.buf.age() }

func (s *SSHSession) Resize(cols, rows int) error {
	return s.sess.WindowChange(rows, cols)
}

func (s *SSHSession) Close() error {
	_ = s.sess.Close()
	return s.client.Close()
}

// FileTransferer is implemented by sessions that can do file I/O
// out-of-band, on a separate exec channel, without typing into the
// interactive shell the agent is watching.
type FileTransferer interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte, append bool) error
}

// ReadFile reads a remote file over a fresh exec channel on the same
// SSH connection.
func (s *SSHSession) ReadFile(ctx context.Context, path string) ([]byte, error) {
	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		sess, err := s.client.NewSession()
		if err != nil {
			done <- readResult{nil, fmt.Errorf("ssh exec channel: %w", err)}
			return
		}
		defer sess.Close()
		out, err := sess.Output(fmt.Sprintf("cat -- %s", shellQuote(path)))
		done <- readResult{out, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.data, r.err
	}
}

// WriteFile writes a remote file over a fresh exec channel, streaming
// content through stdin so no escaping of the payload is needed.
func (s *SSHSession) WriteFile(ctx context.Context, path string, content []byte, appendMode bool) error {
	done := make(chan error, 1)
	go func() {
		sess, err := s.client.NewSession()
		if err != nil {
			done <- fmt.Errorf("ssh exec channel: %w", err)
			return
		}
		defer sess.Close()
		sess.Stdin = strings.NewReader(string(content))
		redir := ">"
		if appendMode {
			redir = ">>"
		}
		done <- sess.Run(fmt.Sprintf("cat %s %s", redir, shellQuote(path)))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// FindPromptTail returns the last non-blank line of a snapshot ("" if
// every line is blank), used by callers
// that only need the freshest line rather than the full buffer.
func FindPromptTail(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
