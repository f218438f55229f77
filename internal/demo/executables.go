package demo

import (
	"context"
	"slices"
	"strings"
	"sync"

	executor "github.com/hanpama/executables/internal/executor"
	grpcexec "github.com/hanpama/executables/internal/grpcexec"
)

// Greet says hello.
type Greet struct{}

func (Greet) ExecuteAsync(_ context.Context, name string) (string, error) {
	if name = strings.TrimSpace(name); name == "" {
		name = "world"
	}
	return "hello " + name, nil
}

type CreateUser struct{ Store *Store }

func (e *CreateUser) ExecuteAsync(_ context.Context, in NewUser) (User, error) {
	return e.Store.Create(in)
}

type GetUser struct{ Store *Store }

func (e *GetUser) ExecuteAsync(_ context.Context, id string) (User, error) {
	return e.Store.Get(id)
}

type ListUsers struct{ Store *Store }

func (e *ListUsers) ExecuteAsync(context.Context) ([]User, error) {
	return e.Store.List(), nil
}

type DeleteUser struct{ Store *Store }

func (e *DeleteUser) ExecuteAsync(_ context.Context, id string) error {
	return e.Store.Delete(id)
}

type ResetUsers struct{ Store *Store }

func (e *ResetUsers) ExecuteAsync(context.Context) error {
	e.Store.Reset()
	return nil
}

// RemoteGreet runs Greet on another process.
type RemoteGreet struct {
	grpcexec.Remote[string, string]
}

// AuditEntry records one CreateUser attempt.
type AuditEntry struct {
	Email  string `json:"email"`
	UserID string `json:"userId,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AuditLog is shared by all executions.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (l *AuditLog) add(e AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// AuditCreates observes CreateUser and appends every outcome to Log.
type AuditCreates struct {
	executor.Ordering
	Log *AuditLog
}

var _ executor.SpecificAsyncInterceptor[*CreateUser, NewUser, User] = AuditCreates{}

func (AuditCreates) BeforeAsync(context.Context, *CreateUser, NewUser) error { return nil }

func (a AuditCreates) AfterAsync(_ context.Context, _ *CreateUser, in NewUser, out User, err error) error {
	e := AuditEntry{Email: in.Email, UserID: out.ID}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log.add(e)
	return nil
}

type ListAudit struct{ Log *AuditLog }

func (e *ListAudit) ExecuteAsync(context.Context) ([]AuditEntry, error) {
	return e.Log.Entries(), nil
}
