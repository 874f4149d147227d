package realtime

import "sync"

// TokenSource exposes the current API credential. An empty string means no
// credential is available, which is a hard precondition failure for
// connecting any channel. Acquiring and refreshing tokens is owned by an
// external collaborator.
type TokenSource interface {
	Token() string
}

// TokenSourceFunc adapts a plain function to a TokenSource.
type TokenSourceFunc func() string

func (f TokenSourceFunc) Token() string {
	return f()
}

// StaticTokenSource holds a token that can be swapped at runtime, e.g. by
// an external refresh flow.
type StaticTokenSource struct {
	mu    sync.RWMutex
	token string
}

// NewStaticTokenSource creates a StaticTokenSource with an initial token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the current token.
func (s *StaticTokenSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the current token.
func (s *StaticTokenSource) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}
