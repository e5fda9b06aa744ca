// Package imageurl rewrites poster origin URLs into requests against an
// image-optimizing proxy.
package imageurl

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

// DefaultBaseURL is the public wsrv.nl image proxy.
const DefaultBaseURL = "https://wsrv.nl/"

// Transformer builds optimized proxy URLs. The zero value uses DefaultBaseURL.
type Transformer struct {
	BaseURL string
}

// New returns a Transformer for baseURL, falling back to DefaultBaseURL when
// baseURL is blank.
func New(baseURL string) Transformer {
	return Transformer{BaseURL: strings.TrimSpace(baseURL)}
}

// Optimize returns the proxied URL for origin rendered at hint. It is pure: no
// I/O and the same inputs always give the same output.
//
// An empty origin yields "". Inline (data:) and object (blob:) URLs, as well as
// anything that is not an absolute http(s) URL, are returned unchanged since
// a remote proxy cannot fetch them.
func (t Transformer) Optimize(origin string, hint poster.DisplayHint) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if !Proxyable(origin) {
		return origin
	}

	h := hint.Normalized()
	q := url.Values{}
	q.Set("url", origin)
	q.Set("w", strconv.Itoa(h.Width))
	q.Set("q", strconv.Itoa(h.Quality))
	q.Set("af", "1")
	q.Set("il", "1")
	q.Set("fit", "cover")
	if h.Height > 0 {
		q.Set("h", strconv.Itoa(h.Height))
	}
	return t.base() + "?" + q.Encode()
}

func (t Transformer) base() string {
	if t.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(t.BaseURL, "?")
}

// Proxyable reports whether origin is an absolute http(s) URL the proxy can
// fetch.
func Proxyable(origin string) bool {
	lower := strings.ToLower(origin)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
