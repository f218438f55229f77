package demo

import (
	catalog "github.com/hanpama/executables/internal/catalog"
	container "github.com/hanpama/executables/internal/container"
	executor "github.com/hanpama/executables/internal/executor"
	grpcexec "github.com/hanpama/executables/internal/grpcexec"
)

// Register adds the store, the executables and their interceptors to c.
func Register(c *container.Container) {
	container.Register(c, container.Singleton, func(container.Scope) (*Store, error) { return NewStore(), nil })
	container.RegisterInstance(c, Greet{})
	scoped(c, func(s *Store) *CreateUser { return &CreateUser{Store: s} })
	scoped(c, func(s *Store) *GetUser { return &GetUser{Store: s} })
	scoped(c, func(s *Store) *ListUsers { return &ListUsers{Store: s} })
	scoped(c, func(s *Store) *DeleteUser { return &DeleteUser{Store: s} })
	scoped(c, func(s *Store) *ResetUsers { return &ResetUsers{Store: s} })
	container.Register(c, container.Singleton, func(container.Scope) (*AuditLog, error) { return &AuditLog{}, nil })
	container.Register(c, container.Scoped, func(s container.Scope) (*ListAudit, error) {
		l, err := container.Resolve[*AuditLog](s)
		return &ListAudit{Log: l}, err
	})
	container.Register(c, container.Transient, func(s container.Scope) (executor.SpecificAsyncInterceptor[*CreateUser, NewUser, User], error) {
		l, err := container.Resolve[*AuditLog](s)
		if err != nil {
			return nil, err
		}
		return AuditCreates{Log: l}, nil
	})
}

// RegisterRemote makes RemoteGreet forward to the "greet" endpoint through client.
func RegisterRemote(c *container.Container, client *grpcexec.Client) {
	container.RegisterInstance(c, RemoteGreet{Remote: grpcexec.NewRemote[string, string](client, "greet")})
}

func scoped[E any](c *container.Container, build func(*Store) E) {
	container.Register(c, container.Scoped, func(s container.Scope) (E, error) {
		st, err := container.Resolve[*Store](s)
		if err != nil {
			var zero E
			return zero, err
		}
		return build(st), nil
	})
}

// AddEndpoints publishes the local executables on cat.
func AddEndpoints(cat *catalog.Catalog, x *executor.Executor) error {
	for _, e := range []struct {
		name string
		ep   catalog.Endpoint
	}{
		{"greet", catalog.Function[Greet, string, string](x)},
		{"users.create", catalog.Function[*CreateUser, NewUser, User](x)},
		{"users.get", catalog.Function[*GetUser, string, User](x)},
		{"users.list", catalog.Producer[*ListUsers, []User](x)},
		{"users.delete", catalog.Consumer[*DeleteUser, string](x)},
		{"users.reset", catalog.Action[*ResetUsers](x)},
		{"users.audit", catalog.Producer[*ListAudit, []AuditEntry](x)},
	} {
		if err := cat.Add(e.name, e.ep); err != nil {
			return err
		}
	}
	return nil
}

// AddRemoteEndpoints publishes the executables registered by RegisterRemote.
func AddRemoteEndpoints(cat *catalog.Catalog, x *executor.Executor) error {
	return cat.Add("remote.greet", catalog.Function[RemoteGreet, string, string](x))
}
