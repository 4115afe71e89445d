package toolruntime

import "context"

// Session is the narrow view of a voice session a tool may act on (e.g.
// set_volume, end_conversation). Implemented by internal/session.Session.
type Session interface {
	// SetVolume applies a volume change, relative or absolute, and notifies
	// the client.
	SetVolume(value int, relative bool) error

	// RequestEnd asks the session to wind down the conversation after the
	// current turn completes.
	RequestEnd()
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying sess as the ambient session
// for any tool executed with it. Nested calls compose naturally: a child
// context's WithSession shadows the parent's for its own subtree and the
// parent's binding reappears once the child context falls out of scope,
// since context.Context values are immutable and never mutated in place.
func WithSession(ctx context.Context, sess Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the ambient Session bound via WithSession, or
// nil if none is set. Tools must not retain the returned reference beyond
// the call in which they received ctx.
func SessionFromContext(ctx context.Context) Session {
	sess, _ := ctx.Value(sessionKey{}).(Session)
	return sess
}
