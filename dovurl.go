package dov_fixtures

import (
	"fmt"
	"net/url"
	"strings"
)

// Version is the tool's version, reported by the CLI and the history server.
const Version = "0.1.0"

// DefaultBaseURL is the root of the public DOV web services.
const DefaultBaseURL = "https://www.dov.vlaanderen.be/"

// BuildURL joins the service's base URL with a path relative to it.
//
// Leading slashes on the path are dropped, and the base is expected to end
// with a slash.
func BuildURL(base, path string) string {
	return base + strings.TrimLeft(path, "/")
}

// NormaliseBaseURL checks that base is an absolute http(s) URL and makes sure
// it ends with a slash so paths can be appended to it.
func NormaliseBaseURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%q is an invalid URL: %w", base, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%q must be an http or https URL", base)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", base)
	}

	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return base, nil
}
