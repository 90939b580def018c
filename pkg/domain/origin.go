package domain

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// NormalizeOrigin reduces a raw origin or URL to its canonical
// scheme://host[:port] form, lowercased, with default ports stripped.
// Opaque origins (the literal "null" sandboxed surfaces report) do not
// normalize and are therefore never allow-listed.
func NormalizeOrigin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidOrigin, raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, p, err := net.SplitHostPort(host); err == nil {
		if (scheme == "https" && p == "443") || (scheme == "http" && p == "80") {
			host = h
		}
	}
	return scheme + "://" + host, nil
}

// OriginSet is the allow-list of origins the bridge accepts inbound messages
// from. Membership checks normalize first, so callers can pass raw header
// values. The set is safe for concurrent use and can be replaced wholesale
// when the peer catalog reloads.
type OriginSet struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

// NewOriginSet builds an allow-list from the given origins.
func NewOriginSet(origins ...string) (*OriginSet, error) {
	s := &OriginSet{members: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if err := s.Add(o); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add normalizes and inserts one origin.
func (s *OriginSet) Add(origin string) error {
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.members[norm] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Replace swaps the entire membership. Used on catalog reload.
func (s *OriginSet) Replace(origins []string) error {
	next := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		norm, err := NormalizeOrigin(o)
		if err != nil {
			return err
		}
		next[norm] = struct{}{}
	}
	s.mu.Lock()
	s.members = next
	s.mu.Unlock()
	return nil
}

// Allows reports whether the raw origin is on the list. Origins that fail to
// normalize are never allowed.
func (s *OriginSet) Allows(origin string) bool {
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return false
	}
	s.mu.RLock()
	_, ok := s.members[norm]
	s.mu.RUnlock()
	return ok
}

// List returns the normalized members in sorted order.
func (s *OriginSet) List() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.members))
	for o := range s.members {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
