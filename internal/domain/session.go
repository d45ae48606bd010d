package domain

import "context"

// Session is the authenticated caller of a request.
type Session struct {
	AuthUserID  string
	Email       string
	AccessToken string
	Role        string
}

type sessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx, if any.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok && s.AuthUserID != ""
}

// WithoutSession hides any session in ctx, so backend calls made with the
// result run with the service role.
func WithoutSession(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, Session{})
}
