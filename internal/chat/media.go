package chat

import (
	"net/url"
	"strings"
)

// MediaResolver turns stored avatar references into absolute https URLs.
type MediaResolver struct {
	base *url.URL
}

// NewMediaResolver resolves relative references against base. An empty or
// invalid base leaves relative references untouched.
func NewMediaResolver(base string) *MediaResolver {
	u, err := url.Parse(base)
	if base == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return &MediaResolver{}
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return &MediaResolver{base: u}
}

// ImageURL returns nil when the account has no avatar.
func (m *MediaResolver) ImageURL(avatar *string) *string {
	if avatar == nil || strings.TrimSpace(*avatar) == "" {
		return nil
	}
	ref := strings.TrimSpace(*avatar)

	if u, err := url.Parse(ref); err == nil && !u.IsAbs() && m != nil && m.base != nil {
		ref = m.base.ResolveReference(u).String()
	}
	if strings.HasPrefix(ref, "http://") {
		ref = "https://" + strings.TrimPrefix(ref, "http://")
	}
	return &ref
}
