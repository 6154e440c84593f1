package lang

import "context"

type ctxKey struct{}

// WithLanguage attaches the recipient's preferred language to ctx so
// notification senders downstream can pick it up.
func WithLanguage(ctx context.Context, language string) context.Context {
	return context.WithValue(ctx, ctxKey{}, language)
}

// LanguageFromContext reads the recipient language from ctx.
func LanguageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxKey{})
	s, ok := v.(string)
	return s, ok && s != ""
}
