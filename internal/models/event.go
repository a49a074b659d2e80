package models

// FeedEvent is a classified, feed-eligible record. Media is non-empty by
// construction: a record of a recognized kind with no usable media never
// becomes a FeedEvent. Duration and PublishedAt are zero when the record
// carried no such tag. IDs are unique per source semantics but not
// guaranteed unique across sources; the merger treats the ID as the
// deduplication key regardless.
type FeedEvent struct {
	ID          string            `json:"id"`
	Author      string            `json:"author"`
	CreatedAt   Timestamp         `json:"created_at"`
	Kind        int               `json:"kind"`
	Content     string            `json:"content"`
	Tags        []Tag             `json:"tags,omitempty"`
	Title       string            `json:"title,omitempty"`
	Media       []MediaDescriptor `json:"media"`
	Duration    int64             `json:"duration,omitempty"`
	PublishedAt Timestamp         `json:"published_at,omitempty"`
}

// HasTag reports whether the event carries a tag with the given
// discriminator and, when value is non-empty, that value as its first
// element after the discriminator.
func (e FeedEvent) HasTag(key, value string) bool {
	for _, t := range e.Tags {
		if t.Key() != key {
			continue
		}
		if value == "" || t.Value() == value {
			return true
		}
	}
	return false
}
