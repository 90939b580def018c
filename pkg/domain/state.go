package domain

// ThemeMode selects the visual scheme peers should render with.
type ThemeMode string

const (
	ThemeLight ThemeMode = "light"
	ThemeDark  ThemeMode = "dark"
)

// Valid reports whether m is a defined theme mode.
func (m ThemeMode) Valid() bool {
	return m == ThemeLight || m == ThemeDark
}

// IdentityState is the identity snapshot the host pushes to peers.
// The zero value means signed out.
type IdentityState struct {
	// SubjectID identifies the signed-in principal. Empty when signed out.
	SubjectID string `json:"subjectId,omitempty" yaml:"subjectId,omitempty" mapstructure:"subjectId"`

	// DisplayName is the human-readable name shown by peer surfaces.
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty" mapstructure:"displayName"`

	// AvatarRef points at the principal's avatar image, if any.
	AvatarRef string `json:"avatarRef,omitempty" yaml:"avatarRef,omitempty" mapstructure:"avatarRef"`

	// Credential is the short-lived token peers use to call host-side APIs.
	// Never log this field; see internal/redact.
	Credential string `json:"credential,omitempty" yaml:"credential,omitempty" mapstructure:"credential"`
}

// SignedIn reports whether the snapshot represents an authenticated principal.
func (s IdentityState) SignedIn() bool {
	return s.SubjectID != ""
}

// PresentationState is the presentation snapshot the host pushes to peers.
type PresentationState struct {
	Mode ThemeMode `json:"mode" yaml:"mode" mapstructure:"mode"`
}

// DefaultPresentation returns the presentation snapshot used before the host
// sets one explicitly.
func DefaultPresentation() PresentationState {
	return PresentationState{Mode: ThemeLight}
}
