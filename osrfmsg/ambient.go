package osrfmsg

import (
	"context"
	"regexp"
)

// DefaultLocale is stamped on outbound messages when no ambient locale has
// been set on the context
const DefaultLocale = "en-US"

var localeRE = regexp.MustCompile(`^[A-Za-z\-.]{1,16}$`)

// ValidLocale reports whether s is an acceptable locale string: non-empty,
// at most 16 characters, drawn from [A-Za-z\-.].
func ValidLocale(s string) bool {
	return localeRE.MatchString(s)
}

type ambientKey struct{}

type ambient struct {
	locale  string
	ingress string
}

// WithAmbient seeds ctx with the locale/ingress pair that outbound messages
// constructed from this context will be stamped with. This is task-local
// "thread-local state", modeled as context values because Go has no
// goroutine-local storage: lifetime is the lifetime of the context, which a
// worker or gateway resets to the default on every fresh unit of work.
func WithAmbient(ctx context.Context, locale, ingress string) context.Context {
	return context.WithValue(ctx, ambientKey{}, ambient{locale: locale, ingress: ingress})
}

// AmbientFromContext returns the locale/ingress pair stamped on ctx, or the
// default locale and empty ingress if none was set.
func AmbientFromContext(ctx context.Context) (locale, ingress string) {
	a, ok := ctx.Value(ambientKey{}).(ambient)
	if !ok {
		return DefaultLocale, ""
	}
	return a.locale, a.ingress
}
