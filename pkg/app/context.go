package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Context holds application-wide configuration and state
type Context struct {
	context.Context

	// Output preferences
	OutputFormat string
	Verbose      bool
	Quiet        bool

	// Out receives command results, ErrOut receives progress and diagnostics
	Out    io.Writer
	ErrOut io.Writer

	Logger *logrus.Logger

	// Common timeouts
	DefaultTimeout time.Duration
}

// NewContext creates a new application context
func NewContext() *Context {
	return &Context{
		Context:        context.Background(),
		OutputFormat:   FormatTable,
		Out:            os.Stdout,
		ErrOut:         os.Stderr,
		Logger:         logrus.New(),
		DefaultTimeout: 30 * time.Second,
	}
}

// WithTimeout creates a context with timeout
func (c *Context) WithTimeout(timeout time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context, timeout)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// WithCancel creates a cancellable context
func (c *Context) WithCancel() (*Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(c.Context)
	newCtx := *c
	newCtx.Context = ctx
	return &newCtx, cancel
}

// ConfigureLogging sets the logger level and format from the output
// preferences. --verbose and --quiet take precedence over level.
func (c *Context) ConfigureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return NewError(ErrCodeInvalidInput, "invalid log level", err)
	}
	switch {
	case c.Quiet:
		lvl = logrus.ErrorLevel
	case c.Verbose:
		lvl = logrus.DebugLevel
	}

	c.Logger.SetLevel(lvl)
	c.Logger.SetOutput(c.ErrOut)
	if c.OutputFormat == FormatJSON {
		c.Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		c.Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return nil
}

// Render writes v to Out in the configured output format
func (c *Context) Render(v Renderable) error {
	return Render(c.Out, c.OutputFormat, v)
}

// NewProgress returns a progress printer on ErrOut, silent when Quiet is set
func (c *Context) NewProgress(message string, total int64) *Progress {
	if c.Quiet || c.OutputFormat != FormatTable {
		return NewProgress(io.Discard, message, total)
	}
	return NewProgress(c.ErrOut, message, total)
}
