package models

import "time"

// Kinds of records the feed engine recognizes. Any other kind is ignored
// during classification.
const (
	KindProfile    = 0
	KindPicture    = 20
	KindShortVideo = 22
)

// FeedKinds are the record kinds eligible for the media feed.
var FeedKinds = []int{KindPicture, KindShortVideo}

// Timestamp is a Unix timestamp in seconds, the time unit every source
// speaks on the wire.
type Timestamp int64

func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// Tag is one ordered list of strings attached to a record. Element 0 is the
// discriminator ("imeta", "title", ...); the meaning of the remaining
// elements depends on it.
type Tag []string

// Key returns the tag discriminator, or "" for an empty tag.
func (t Tag) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first element after the discriminator, or "" when the
// tag has no value element.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// RawRecord is a record as delivered by a source, before classification.
// Identifiers, timestamps and tag strings are opaque wire values; the engine
// does not validate their authenticity. Treat a received record as immutable.
type RawRecord struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Author    string    `json:"author" dynamodbav:"author"`
	CreatedAt Timestamp `json:"created_at" dynamodbav:"created_at"`
	Kind      int       `json:"kind" dynamodbav:"kind"`
	Content   string    `json:"content" dynamodbav:"content"`
	Tags      []Tag     `json:"tags" dynamodbav:"tags"`
}

// FirstTag returns the first tag whose discriminator equals key.
func (r RawRecord) FirstTag(key string) (Tag, bool) {
	for _, t := range r.Tags {
		if t.Key() == key {
			return t, true
		}
	}
	return nil, false
}
