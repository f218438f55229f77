// Package interceptors provides general interceptors for common concerns.
package interceptors

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	executor "github.com/hanpama/executables/internal/executor"
	reqid "github.com/hanpama/executables/internal/reqid"
)

// Logging logs every execution it observes. Successful executions are logged
// at debug level and failures at error level.
type Logging struct {
	executor.Ordering
	logger *log.Logger
}

var (
	_ executor.Interceptor      = (*Logging)(nil)
	_ executor.AsyncInterceptor = (*Logging)(nil)
)

func NewLogging(logger *log.Logger, order int) *Logging {
	if logger == nil {
		logger = log.Default()
	}
	return &Logging{Ordering: executor.Ordering(order), logger: logger.WithPrefix("executor")}
}

func (l *Logging) Before(exe any, _ any) error {
	l.logger.Debug("executing", "executable", name(exe))
	return nil
}

func (l *Logging) After(exe any, _ any, _ any, err error) error {
	l.done(l.logger, exe, err)
	return nil
}

func (l *Logging) BeforeAsync(ctx context.Context, exe any, _ any) error {
	l.with(ctx).Debug("executing", "executable", name(exe), "async", true)
	return nil
}

func (l *Logging) AfterAsync(ctx context.Context, exe any, _ any, _ any, err error) error {
	l.done(l.with(ctx), exe, err)
	return nil
}

func (l *Logging) with(ctx context.Context) *log.Logger {
	if id, ok := reqid.FromContext(ctx); ok {
		return l.logger.With("request", id)
	}
	return l.logger
}

func (l *Logging) done(logger *log.Logger, exe any, err error) {
	if err != nil {
		logger.Error("execution failed", "executable", name(exe), "error", err)
		return
	}
	logger.Debug("executed", "executable", name(exe))
}

func name(exe any) string { return fmt.Sprintf("%T", exe) }
