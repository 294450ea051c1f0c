// Package credentials supplies the authenticated session context used when
// talking to the generation service. Providers are pluggable; the rest of
// the program depends only on the Source interface.
package credentials

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// SessionContext carries the cookies presented to the generation service.
// An empty context is a valid anonymous session.
type SessionContext struct {
	Cookies []*http.Cookie
}

// IsAnonymous reports whether the session carries no credentials.
func (s SessionContext) IsAnonymous() bool {
	return len(s.Cookies) == 0
}

// Source yields a session context for the remote service.
type Source interface {
	SessionContext() (SessionContext, error)
}

// EnvSource reads a raw Cookie header value from an environment variable.
type EnvSource struct {
	Key string
}

// SessionContext parses the configured environment variable as a Cookie
// header. An unset or empty variable yields an anonymous session.
func (s EnvSource) SessionContext() (SessionContext, error) {
	raw := strings.TrimSpace(os.Getenv(s.Key))
	if raw == "" {
		return SessionContext{}, nil
	}
	return SessionContext{Cookies: parseCookieHeader(raw)}, nil
}

// FileSource reads cookies from a file containing one name=value pair per
// line. Blank lines and lines starting with '#' are ignored.
type FileSource struct {
	Path string
}

// SessionContext loads and parses the cookie file. A missing or unreadable
// file is an error.
func (s FileSource) SessionContext() (SessionContext, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return SessionContext{}, fmt.Errorf("read cookie file: %w", err)
	}

	var cookies []*http.Cookie
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return SessionContext{}, fmt.Errorf("cookie file %s: malformed line %q", s.Path, line)
		}
		cookies = append(cookies, &http.Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return SessionContext{Cookies: cookies}, nil
}

// Chain queries each source in order and returns the first session that
// carries cookies. When every source yields an anonymous session the chain
// does too.
type Chain []Source

// SessionContext implements Source.
func (c Chain) SessionContext() (SessionContext, error) {
	var errs []error
	for _, source := range c {
		session, err := source.SessionContext()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !session.IsAnonymous() {
			return session, nil
		}
	}
	if len(errs) > 0 {
		return SessionContext{}, errors.Join(errs...)
	}
	return SessionContext{}, nil
}

// parseCookieHeader splits a raw Cookie header into individual cookies by
// round-tripping it through net/http's request parsing.
func parseCookieHeader(raw string) []*http.Cookie {
	header := http.Header{}
	header.Add("Cookie", raw)
	request := http.Request{Header: header}
	return request.Cookies()
}
