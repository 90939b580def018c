package domain

import (
	"time"
)

// Peer identifies one attached surface.
type Peer struct {
	// ID is the bridge-local identifier, e.g. "planner".
	ID string `json:"id" yaml:"id" mapstructure:"id"`

	// Origin is the origin the surface is served from. When set, inbound
	// messages attributed to this peer must carry a matching origin.
	Origin string `json:"origin,omitempty" yaml:"origin,omitempty" mapstructure:"origin"`
}

// Family describes one operation family a peer exposes, with an optional
// per-family call deadline. Timeout stays a string ("5s") as written in
// manifests; ParseTimeout converts it.
type Family struct {
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// ParseTimeout parses the family deadline. Zero with nil error means no
// family-specific deadline is configured.
func (f Family) ParseTimeout() (time.Duration, error) {
	if f.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(f.Timeout)
}

// Manifest is the catalog description of an embeddable peer.
type Manifest struct {
	ID          string   `json:"id" yaml:"id" mapstructure:"id"`
	Title       string   `json:"title,omitempty" yaml:"title,omitempty" mapstructure:"title"`
	Origin      string   `json:"origin" yaml:"origin" mapstructure:"origin"`
	EmbedURL    string   `json:"embedUrl,omitempty" yaml:"embedUrl,omitempty" mapstructure:"embedUrl"`
	Families    []Family `json:"families,omitempty" yaml:"families,omitempty" mapstructure:"families"`
	Description string   `json:"description,omitempty" yaml:"-" mapstructure:"-"`
}

// PeerView flattens the manifest into the attachable Peer identity.
func (m Manifest) PeerView() Peer {
	return Peer{ID: m.ID, Origin: m.Origin}
}
