package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// NoOutput is returned by Send when a command printed nothing.
const NoOutput = "No output returned from command."

// DefaultTimeout bounds a single Send when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

const (
	startMarker = "<<<<START_MARKER"
	endMarker   = "<<<<END_MARKER"
)

// Config describes the interpreter a Session runs.
type Config struct {
	Path    string
	Args    []string
	WorkDir string
	Timeout time.Duration
	Env     map[string]string
}

// DefaultConfig returns bash on Unix and PowerShell on Windows.
func DefaultConfig() Config {
	if runtime.GOOS == "windows" {
		return Config{
			Path:    "powershell",
			Args:    []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-Command", "-"},
			Timeout: DefaultTimeout,
		}
	}
	return Config{
		Path:    "bash",
		Args:    []string{"--noprofile", "--norc"},
		Timeout: DefaultTimeout,
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	Alive         bool      `json:"alive"`
	PID           int       `json:"pid"`
	Interpreter   string    `json:"interpreter"`
	Commands      uint64    `json:"commands"`
	StartedAt     time.Time `json:"started_at"`
	LastCommandAt time.Time `json:"last_command_at,omitzero"`
}

// Session is one long-lived interpreter process. State such as the working
// directory and variables persists between commands. Every command is framed
// by start and end markers carrying a per-session token and a per-command
// sequence number; output is the text between the two.
type Session struct {
	cfg     Config
	dialect Dialect
	logger  *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	output *os.File
	lines  chan string

	token     string
	seq       atomic.Uint64
	sem       *semaphore.Weighted
	startedAt time.Time
	lastCmdAt atomic.Int64

	exited    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Start launches the interpreter described by cfg.
func Start(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		def := DefaultConfig()
		cfg.Path, cfg.Args = def.Path, def.Args
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = processEnvironment(cfg.Env)
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("shell stdin: %w", err)
	}
	// stdout and stderr share one pipe so their interleaving is preserved.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("shell output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting %s: %w", cfg.Path, err)
	}
	pw.Close()

	s := &Session{
		cfg:       cfg,
		dialect:   DialectFor(cfg.Path),
		logger:    logger,
		cmd:       cmd,
		stdin:     stdin,
		output:    pr,
		lines:     make(chan string, 256),
		token:     uuid.NewString(),
		sem:       semaphore.NewWeighted(1),
		startedAt: time.Now(),
		exited:    make(chan struct{}),
		closing:   make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.waitLoop()

	logger.Info("shell session started",
		zap.String("interpreter", cfg.Path),
		zap.Strings("args", cfg.Args),
		zap.Int("pid", cmd.Process.Pid))
	return s, nil
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	defer close(s.lines)

	reader := bufio.NewReader(s.output)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			select {
			case s.lines <- line:
			case <-s.closing:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop() {
	defer s.wg.Done()
	err := s.cmd.Wait()
	close(s.exited)
	select {
	case <-s.closing:
	default:
		s.logger.Warn("shell process exited", zap.Error(err))
	}
}

// Alive reports whether the interpreter process is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Send runs command and returns its combined output. Calls are serialized;
// a caller whose ctx ends while another command runs gets ErrSessionBusy.
func (s *Session) Send(ctx context.Context, command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", newError(KindInvalidCommand, command, errors.New("empty command"))
	}
	if err := s.dialect.Validate(command); err != nil {
		return "", newError(KindInvalidCommand, command, err)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", newError(KindBusy, command, err)
	}
	defer s.sem.Release(1)

	if !s.Alive() {
		return "", newError(KindDead, command, nil)
	}

	seq := s.seq.Add(1)
	begin := fmt.Sprintf("%s-%s-%d>>>>", startMarker, s.token, seq)
	end := fmt.Sprintf("%s-%s-%d>>>>", endMarker, s.token, seq)
	script := s.dialect.Echo(begin) + "\n" + command + "\n" + s.dialect.Echo(end) + "\n"

	s.lastCmdAt.Store(time.Now().UnixNano())
	if _, err := io.WriteString(s.stdin, script); err != nil {
		return "", newError(KindDead, command, err)
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	var collected []string
	started := false
	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", newError(KindDead, command, io.EOF)
			}
			// Output without a trailing newline runs into the marker echoed
			// after it, so markers are matched anywhere in the line.
			if !started {
				// Lines before our start marker belong to an earlier command
				// that timed out and are dropped.
				started = strings.Contains(line, begin)
				continue
			}
			if i := strings.Index(line, end); i >= 0 {
				if i > 0 {
					collected = append(collected, line[:i])
				}
				return s.clean(collected), nil
			}
			collected = append(collected, line)
		case <-s.exited:
			return "", newError(KindDead, command, nil)
		case <-timer.C:
			s.logger.Warn("shell command timed out",
				zap.String("command", command),
				zap.Duration("timeout", s.cfg.Timeout))
			return "", newError(KindTimeout, command, fmt.Errorf("no end marker after %s", s.cfg.Timeout))
		case <-ctx.Done():
			return "", newError(KindCanceled, command, ctx.Err())
		}
	}
}

// clean strips marker lines and carriage returns and trims the final newline.
func (s *Session) clean(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, s.token) {
			continue
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.ReplaceAll(line, "\r", "")
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	if strings.TrimSpace(out) == "" {
		return NoOutput
	}
	return out
}

// Status reports the session state.
func (s *Session) Status() Status {
	st := Status{
		Alive:       s.Alive(),
		Interpreter: s.cfg.Path,
		Commands:    s.seq.Load(),
		StartedAt:   s.startedAt,
	}
	if s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if ns := s.lastCmdAt.Load(); ns != 0 {
		st.LastCommandAt = time.Unix(0, ns)
	}
	return st
}

// Close terminates the interpreter and waits for the session goroutines.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.stdin.Close()
		killProcessGroup(s.cmd)
		<-s.exited
		s.output.Close()
		s.wg.Wait()
		s.logger.Info("shell session closed")
	})
	return nil
}
