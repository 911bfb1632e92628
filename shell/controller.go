package shell

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Executor runs one command at a time in a persistent session.
type Executor interface {
	Send(ctx context.Context, command string) (string, error)
}

// Controller owns the process-wide session. A dead session is never
// respawned implicitly; Restart is the only recovery path.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	session *Session
	lastErr error
}

// NewController returns a controller for cfg. No process runs until Start.
func NewController(cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger.Named("shell")}
}

// Start launches the session if none is running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	return c.startLocked()
}

func (c *Controller) startLocked() error {
	s, err := Start(c.cfg, c.logger)
	c.lastErr = err
	if err != nil {
		c.logger.Error("failed to start shell session", zap.Error(err))
		return err
	}
	c.session = s
	return nil
}

// Send runs command in the current session.
func (c *Controller) Send(ctx context.Context, command string) (string, error) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s == nil {
		return "", newError(KindDead, command, c.lastErr)
	}
	return s.Send(ctx, command)
}

// Restart closes the current session, if any, and starts a fresh one.
// A command still running in the old session fails with ErrSessionDead.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	c.logger.Info("restarting shell session")
	return c.startLocked()
}

// Status reports the current session, or a zero Status if none is running.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Status{Interpreter: c.cfg.Path}
	}
	return c.session.Status()
}

// Close terminates the session.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
