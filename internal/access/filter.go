/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package access decides whether a request's declared origin may reach the
// protected routes of the gateway.
package access

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kentakayama/capgate/internal/util"
)

const wildcardPrefix = "*."

// Filter holds a parsed origin allow-list. The zero value allows everything.
type Filter struct {
	patterns []string
	exact    util.Set[string]
	suffixes []string
}

// ParseAllowList turns the raw ALLOWED value into a list of patterns. Quote
// characters are removed, entries are split on commas, trimmed, lower-cased
// and empty entries are dropped. It never fails.
func ParseAllowList(raw string) []string {
	raw = strings.NewReplacer("\"", "", "'", "").Replace(raw)

	var patterns []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// New builds a Filter from the raw ALLOWED value.
func New(raw string) *Filter {
	f := &Filter{
		patterns: ParseAllowList(raw),
		exact:    util.NewSet[string](),
	}
	for _, p := range f.patterns {
		if domain, ok := strings.CutPrefix(p, wildcardPrefix); ok {
			f.suffixes = append(f.suffixes, domain)
			continue
		}
		f.exact.Add(p)
	}
	return f
}

// Patterns returns the parsed allow-list.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}

// Open reports whether no restriction is configured.
func (f *Filter) Open() bool {
	return f == nil || len(f.patterns) == 0
}

// Allowed reports whether r may proceed. With an empty allow-list every
// request is allowed. Otherwise the origin is taken from Referer, falling
// back to Origin; a request without either, or with an unparsable URL, is
// denied.
func (f *Filter) Allowed(r *http.Request) bool {
	if f.Open() {
		return true
	}
	host, ok := requestHost(r)
	if !ok {
		return false
	}
	return f.MatchHost(host)
}

// MatchHost reports whether hostname matches at least one pattern.
func (f *Filter) MatchHost(hostname string) bool {
	if f.Open() {
		return true
	}
	hostname = strings.ToLower(hostname)
	if f.exact.Has(hostname) {
		return true
	}
	for _, domain := range f.suffixes {
		if matchWildcard(hostname, domain) {
			return true
		}
	}
	return false
}

// matchWildcard implements "*.<domain>". A plain suffix test with a label
// count check would let "a.notexample.com" through for "*.example.com"; this
// is tightened to require a label boundary, so hostname must end with
// "."+domain. That also means it carries more labels than domain, and the
// bare domain does not match.
func matchWildcard(hostname, domain string) bool {
	return domain != "" && strings.HasSuffix(hostname, "."+domain)
}

func requestHost(r *http.Request) (string, bool) {
	claimed := r.Header.Get("Referer")
	if claimed == "" {
		claimed = r.Header.Get("Origin")
	}
	if claimed == "" {
		return "", false
	}
	return hostnameOf(claimed)
}

func hostnameOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	host := u.Hostname()
	if host == "" {
		return "", false
	}
	return strings.ToLower(host), true
}

// Middleware rejects requests whose path starts with one of prefixes and
// whose origin is not allowed. Rejections get 403 with a plain-text body.
func (f *Filter) Middleware(prefixes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if f.Open() || len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Protected(r.URL.Path, prefixes) && !f.Allowed(r) {
				zerolog.Ctx(r.Context()).Debug().
					Str("path", r.URL.Path).
					Str("referer", r.Header.Get("Referer")).
					Str("origin", r.Header.Get("Origin")).
					Msg("origin not allowed")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("Forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Protected reports whether path falls under one of prefixes.
func Protected(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
