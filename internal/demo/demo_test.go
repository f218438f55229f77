package demo

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	catalog "github.com/hanpama/executables/internal/catalog"
	container "github.com/hanpama/executables/internal/container"
	executor "github.com/hanpama/executables/internal/executor"
	grpcexec "github.com/hanpama/executables/internal/grpcexec"
)

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := container.New()
	t.Cleanup(func() { _ = c.Close() })
	Register(c)
	cat := catalog.New()
	require.NoError(t, AddEndpoints(cat, executor.NewExecutor(c)))
	return cat
}

func call[T any](t *testing.T, cat *catalog.Catalog, name, input string) T {
	t.Helper()
	out, err := cat.Call(context.Background(), name, []byte(input))
	require.NoError(t, err)
	v, ok := out.(T)
	require.True(t, ok, "unexpected output type %T", out)
	return v
}

func TestEndpoints(t *testing.T) {
	cat := newCatalog(t)
	require.Equal(t, []string{"greet", "users.audit", "users.create", "users.delete", "users.get", "users.list", "users.reset"}, cat.Names())
}

func TestGreet(t *testing.T) {
	cat := newCatalog(t)
	require.Equal(t, "hello bob", call[string](t, cat, "greet", `"bob"`))
	require.Equal(t, "hello world", call[string](t, cat, "greet", ""))
}

func TestUsersLifecycle(t *testing.T) {
	cat := newCatalog(t)
	ignoreTime := cmpopts.IgnoreFields(User{}, "CreatedAt")

	created := call[User](t, cat, "users.create", `{"email":"kim@example.com","name":"Kim"}`)
	if diff := cmp.Diff(User{ID: "user-3", Email: "kim@example.com", Name: "Kim", Active: true}, created, ignoreTime); diff != "" {
		t.Fatalf("created user mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, created, call[User](t, cat, "users.get", `"user-3"`))

	var ids []string
	for _, u := range call[[]User](t, cat, "users.list", "") {
		ids = append(ids, u.ID)
	}
	require.Equal(t, []string{"user-1", "user-2", "user-3"}, ids)

	_, err := cat.Call(context.Background(), "users.delete", []byte(`"user-1"`))
	require.NoError(t, err)
	_, err = cat.Call(context.Background(), "users.get", []byte(`"user-1"`))
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = cat.Call(context.Background(), "users.reset", nil)
	require.NoError(t, err)
	require.Len(t, call[[]User](t, cat, "users.list", ""), 2)
}

func TestStoreCreate_Validation(t *testing.T) {
	s := NewStore()
	for _, in := range []NewUser{
		{Email: "kim@example.com"},
		{Email: "not-an-address", Name: "Kim"},
	} {
		_, err := s.Create(in)
		require.ErrorIs(t, err, ErrInvalidUser, in)
		require.ErrorIs(t, err, catalog.ErrInvalidInput, in)
	}
	require.Len(t, s.List(), 2)
}

func TestCreateUser_ValidationAndAudit(t *testing.T) {
	cat := newCatalog(t)
	ctx := context.Background()

	_, err := cat.Call(ctx, "users.create", []byte(`{"email":"not-an-address","name":"Kim"}`))
	require.ErrorIs(t, err, ErrInvalidUser)

	_, err = cat.Call(ctx, "users.create", []byte(`{"email":"JOHN@example.com","name":"John"}`))
	require.True(t, errors.Is(err, ErrEmailTaken))

	created := call[User](t, cat, "users.create", `{"email":"kim@example.com","name":"Kim"}`)
	require.Len(t, call[[]User](t, cat, "users.list", ""), 3)

	// the executable ran for every attempt and the interceptor saw each outcome
	audit := call[[]AuditEntry](t, cat, "users.audit", "")
	require.Len(t, audit, 3)
	require.Equal(t, "not-an-address", audit[0].Email)
	require.Contains(t, audit[0].Error, "invalid user")
	require.Empty(t, audit[0].UserID)
	require.Contains(t, audit[1].Error, "already registered")
	require.Equal(t, AuditEntry{Email: "kim@example.com", UserID: created.ID}, audit[2])
}

func TestRemoteGreet(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	grpcexec.RegisterExecutorServer(srv, grpcexec.NewServer(newCatalog(t)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client := grpcexec.NewClient(
		grpcexec.WithProvider(grpcexec.NewStaticEndpoints(map[string][]string{grpcexec.Wildcard: {"passthrough:///bufnet"}})),
		grpcexec.WithDialOptions(
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		),
	)
	t.Cleanup(func() { _ = client.Close() })

	c := container.New()
	t.Cleanup(func() { _ = c.Close() })
	RegisterRemote(c, client)
	cat := catalog.New()
	require.NoError(t, AddRemoteEndpoints(cat, executor.NewExecutor(c)))

	require.Equal(t, "hello remote", call[string](t, cat, "remote.greet", `"remote"`))

	raw, err := client.Call(context.Background(), "users.list", nil)
	require.NoError(t, err)
	var users []User
	require.NoError(t, json.Unmarshal(raw, &users))
	require.Len(t, users, 2)
}
