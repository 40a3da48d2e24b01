package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/WessleyAI/threadwatch/engine/domain"
)

// NormalizeURL trims raw, requires an http(s) URL with a host, drops the
// query and fragment, and ensures a trailing slash.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: no host", domain.ErrInvalidURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
		u.RawPath = ""
	}
	return u.String(), nil
}

// JSONEndpoint derives the machine-readable listing URL from a
// normalized thread URL.
func JSONEndpoint(normalized string) string {
	return normalized + ".json?raw_json=1"
}

// PostID extracts the post ID from a thread URL: the segment after
// "comments", or the only segment of a redd.it short link. It returns ""
// when neither is present.
func PostID(threadURL string) string {
	u, err := url.Parse(strings.TrimSpace(threadURL))
	if err != nil {
		return ""
	}
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i, s := range segs {
		if s == "comments" && i+1 < len(segs) {
			return segs[i+1]
		}
	}
	if strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), "redd.it") && len(segs) == 1 {
		return segs[0]
	}
	return ""
}
