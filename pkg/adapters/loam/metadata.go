package loam

// ManifestMetadata is the frontmatter of a peer manifest document.
// The markdown body becomes the manifest description.
type ManifestMetadata struct {
	ID       string `json:"id" mapstructure:"id"`
	Title    string `json:"title" mapstructure:"title"`
	Origin   string `json:"origin" mapstructure:"origin"`
	EmbedURL string `json:"embed_url" mapstructure:"embed_url"`

	// Families declares the operation families this peer answers, with an
	// optional per-family call deadline like "30s".
	Families []FamilyMetadata `json:"families" mapstructure:"families"`
}

type FamilyMetadata struct {
	Name    string `json:"name" mapstructure:"name"`
	Timeout string `json:"timeout,omitempty" mapstructure:"timeout"`
}
