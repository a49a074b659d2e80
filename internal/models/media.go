package models

// MediaDescriptor describes one piece of media attached to a feed event.
// URL and MimeType are required; a descriptor missing either is never
// constructed. The remaining fields are optional wire metadata carried
// through verbatim.
type MediaDescriptor struct {
	URL          string   `json:"url"`
	MimeType     string   `json:"mime_type"`
	Dim          string   `json:"dim,omitempty"`
	Blurhash     string   `json:"blurhash,omitempty"`
	Alt          string   `json:"alt,omitempty"`
	Checksum     string   `json:"checksum,omitempty"`
	FallbackURLs []string `json:"fallback_urls,omitempty"`
	ImageURLs    []string `json:"image_urls,omitempty"`
	Service      string   `json:"service,omitempty"`
}
