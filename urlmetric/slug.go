package urlmetric

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL lower-cases scheme and host, defaults the path to "/", sorts
// the query and drops the fragment.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("urlmetric: parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("urlmetric: url must be absolute: %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = u.Query().Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// Slug identifies a page: the hex MD5 of its normalized URL.
func Slug(pageURL string) (string, error) {
	n, err := NormalizeURL(pageURL)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(n))
	return hex.EncodeToString(sum[:]), nil
}
