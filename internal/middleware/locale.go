package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"keisha/internal/infra/geoip"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// supportedLocales are the languages paywall and error copy ships in.
// English is first so it wins when matching is inconclusive.
var supportedLocales = []language.Tag{
	language.English,
	language.French,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// countryLocales maps origin countries to a default language when the
// request carries no usable Accept-Language.
var countryLocales = map[string]string{
	"FR": "fr",
	"CA": "fr",
	"ES": "es",
	"MX": "es",
	"AR": "es",
	"CO": "es",
}

// Locale resolves the request language and origin country and stores both
// in the context. Country resolution is best effort; requests without a
// GeoIP match simply go untagged.
func Locale(defaultLocale string, resolver geoip.CountryResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := resolveCountry(r, resolver)
			locale := detectLocale(r, defaultLocale, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback, country string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return matchLocale(v)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return matchLocale(accept)
	}
	if loc, ok := countryLocales[strings.ToUpper(country)]; ok {
		return loc
	}
	if fallback != "" {
		return matchLocale(fallback)
	}
	return "en"
}

// matchLocale reduces an Accept-Language value (or a bare tag) to one of
// the supported base languages.
func matchLocale(value string) string {
	tags, _, err := language.ParseAcceptLanguage(value)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	_, idx, _ := localeMatcher.Match(tags...)
	base, _ := supportedLocales[idx].Base()
	return base.String()
}

func resolveCountry(r *http.Request, resolver geoip.CountryResolver) string {
	headerHints := []string{"X-Country-Code", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" && !strings.EqualFold(val, "XX") {
			return strings.ToUpper(val)
		}
	}
	return geoip.RequestCountry(resolver, r)
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}
