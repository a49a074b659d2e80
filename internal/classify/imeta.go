package classify

import (
	"strings"

	"github.com/lensfeed/lensfeed/internal/models"
)

// Discriminators and entry keys of the media tag format. Entries after the
// discriminator are "<key> <value>" strings; the key is the token before the
// first space and the value is the remainder.
const (
	imetaDiscriminator = "imeta"

	keyURL      = "url"
	keyMime     = "m"
	keyDim      = "dim"
	keyBlurhash = "blurhash"
	keyAlt      = "alt"
	keyChecksum = "x"
	keyFallback = "fallback"
	keyImage    = "image"
	keyService  = "service"
)

// ParseIMeta decodes one imeta tag into a media descriptor. The fallback and
// image keys are repeatable and append in order of appearance; other keys
// keep their last occurrence. Unrecognized keys and entries without a
// separating space are skipped for forward compatibility. Returns ok=false
// when the tag is not an imeta tag or is missing a url or mime type entry;
// malformed input never produces an error.
func ParseIMeta(tag models.Tag) (models.MediaDescriptor, bool) {
	if tag.Key() != imetaDiscriminator {
		return models.MediaDescriptor{}, false
	}

	var d models.MediaDescriptor
	for _, entry := range tag[1:] {
		key, value, found := strings.Cut(entry, " ")
		if !found || value == "" {
			continue
		}
		switch key {
		case keyURL:
			d.URL = value
		case keyMime:
			d.MimeType = value
		case keyDim:
			d.Dim = value
		case keyBlurhash:
			d.Blurhash = value
		case keyAlt:
			d.Alt = value
		case keyChecksum:
			d.Checksum = value
		case keyFallback:
			d.FallbackURLs = append(d.FallbackURLs, value)
		case keyImage:
			d.ImageURLs = append(d.ImageURLs, value)
		case keyService:
			d.Service = value
		}
	}

	if d.URL == "" || d.MimeType == "" {
		return models.MediaDescriptor{}, false
	}
	return d, true
}
