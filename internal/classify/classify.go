// Package classify turns raw source records into typed, feed-eligible
// events. Everything in it is a pure mapping: no I/O, no state, and parse
// failures degrade to an absent field or a discarded descriptor rather than
// an error that would abort sibling records.
package classify

import (
	"strconv"

	"github.com/lensfeed/lensfeed/internal/models"
)

// Scalar tags read off a record during classification. Each holds its value
// as the element right after the discriminator.
const (
	tagTitle       = "title"
	tagDuration    = "duration"
	tagPublishedAt = "published_at"
)

// Record classifies one raw record. It returns nil for records of an
// unrecognized kind and for records of a recognized kind whose tags yield
// no valid media descriptor; only media-bearing events are feed-eligible.
func Record(r models.RawRecord) *models.FeedEvent {
	if r.Kind != models.KindPicture && r.Kind != models.KindShortVideo {
		return nil
	}

	var media []models.MediaDescriptor
	for _, t := range r.Tags {
		if t.Key() != imetaDiscriminator {
			continue
		}
		if d, ok := ParseIMeta(t); ok {
			media = append(media, d)
		}
	}
	if len(media) == 0 {
		return nil
	}

	ev := &models.FeedEvent{
		ID:        r.ID,
		Author:    r.Author,
		CreatedAt: r.CreatedAt,
		Kind:      r.Kind,
		Content:   r.Content,
		Tags:      r.Tags,
		Media:     media,
	}
	if t, ok := r.FirstTag(tagTitle); ok {
		ev.Title = t.Value()
	}
	if t, ok := r.FirstTag(tagDuration); ok {
		if n, err := strconv.ParseInt(t.Value(), 10, 64); err == nil {
			ev.Duration = n
		}
	}
	if t, ok := r.FirstTag(tagPublishedAt); ok {
		if n, err := strconv.ParseInt(t.Value(), 10, 64); err == nil {
			ev.PublishedAt = models.Timestamp(n)
		}
	}
	return ev
}

// Records classifies a batch, keeping input order and silently dropping
// records that are not feed-eligible.
func Records(records []models.RawRecord) []models.FeedEvent {
	events := make([]models.FeedEvent, 0, len(records))
	for _, r := range records {
		if ev := Record(r); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}
