package execctl

import (
	"context"

	"github.com/wagiedev/execctl-go/internal/session"
)

// sessionWrapper adapts the internal session to the public interface.
type sessionWrapper struct {
	impl *session.Session
}

// Compile-time check that *sessionWrapper implements the Session interface.
var _ Session = (*sessionWrapper)(nil)

func newSessionImpl(l Launcher) *sessionWrapper {
	return &sessionWrapper{impl: session.New(l)}
}

func (s *sessionWrapper) ID() string {
	return s.impl.ID()
}

func (s *sessionWrapper) State() State {
	return s.impl.State()
}

func (s *sessionWrapper) Invoke(ctx context.Context, classRef, methodName string) (string, error) {
	return s.impl.Invoke(ctx, classRef, methodName)
}

func (s *sessionWrapper) VarValue(ctx context.Context, classRef, varName string) (string, error) {
	return s.impl.VarValue(ctx, classRef, varName)
}

func (s *sessionWrapper) Load(ctx context.Context, classes []Class) error {
	return s.impl.Load(ctx, classes)
}

func (s *sessionWrapper) Redefine(ctx context.Context, classes []Class) error {
	return s.impl.Redefine(ctx, classes)
}

func (s *sessionWrapper) AddToClasspath(ctx context.Context, path string) error {
	return s.impl.AddToClasspath(ctx, path)
}

func (s *sessionWrapper) Stop(ctx context.Context) error {
	return s.impl.Stop(ctx)
}

func (s *sessionWrapper) Close() error {
	return s.impl.Close()
}

func (s *sessionWrapper) Done() <-chan struct{} {
	return s.impl.Done()
}

func (s *sessionWrapper) Err() error {
	return s.impl.Err()
}
