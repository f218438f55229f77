package container

import "context"

// Invoke resolves its argument from a fresh scope, calls fn and closes the scope.
func Invoke[T any](ctx context.Context, c *Container, fn func(T) error) error {
	return withScope(ctx, c, func(s Scope) error {
		a, err := Resolve[T](s)
		if err != nil {
			return err
		}
		return fn(a)
	})
}

// Invoke2 is Invoke with two resolved arguments sharing one scope.
func Invoke2[T1, T2 any](ctx context.Context, c *Container, fn func(T1, T2) error) error {
	return withScope(ctx, c, func(s Scope) error {
		a1, err := Resolve[T1](s)
		if err != nil {
			return err
		}
		a2, err := Resolve[T2](s)
		if err != nil {
			return err
		}
		return fn(a1, a2)
	})
}

// Invoke3 is Invoke with three resolved arguments sharing one scope.
func Invoke3[T1, T2, T3 any](ctx context.Context, c *Container, fn func(T1, T2, T3) error) error {
	return withScope(ctx, c, func(s Scope) error {
		a1, err := Resolve[T1](s)
		if err != nil {
			return err
		}
		a2, err := Resolve[T2](s)
		if err != nil {
			return err
		}
		a3, err := Resolve[T3](s)
		if err != nil {
			return err
		}
		return fn(a1, a2, a3)
	})
}

// Invoke4 is Invoke with four resolved arguments sharing one scope.
func Invoke4[T1, T2, T3, T4 any](ctx context.Context, c *Container, fn func(T1, T2, T3, T4) error) error {
	return withScope(ctx, c, func(s Scope) error {
		a1, err := Resolve[T1](s)
		if err != nil {
			return err
		}
		a2, err := Resolve[T2](s)
		if err != nil {
			return err
		}
		a3, err := Resolve[T3](s)
		if err != nil {
			return err
		}
		a4, err := Resolve[T4](s)
		if err != nil {
			return err
		}
		return fn(a1, a2, a3, a4)
	})
}

// Invoke5 is Invoke with five resolved arguments sharing one scope.
func Invoke5[T1, T2, T3, T4, T5 any](ctx context.Context, c *Container, fn func(T1, T2, T3, T4, T5) error) error {
	return withScope(ctx, c, func(s Scope) error {
		a1, err := Resolve[T1](s)
		if err != nil {
			return err
		}
		a2, err := Resolve[T2](s)
		if err != nil {
			return err
		}
		a3, err := Resolve[T3](s)
		if err != nil {
			return err
		}
		a4, err := Resolve[T4](s)
		if err != nil {
			return err
		}
		a5, err := Resolve[T5](s)
		if err != nil {
			return err
		}
		return fn(a1, a2, a3, a4, a5)
	})
}

func withScope(ctx context.Context, c *Container, fn func(Scope) error) (err error) {
	s, err := c.OpenScope(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}
