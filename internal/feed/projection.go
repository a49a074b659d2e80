package feed

import "github.com/lensfeed/lensfeed/internal/models"

// Projections are pure views over a snapshot. They never mutate the input
// and keep its order, so a filtered feed stays newest-first.

// FilterByAuthor returns the events authored by author.
func FilterByAuthor(events []models.FeedEvent, author string) []models.FeedEvent {
	out := make([]models.FeedEvent, 0, len(events))
	for _, e := range events {
		if e.Author == author {
			out = append(out, e)
		}
	}
	return out
}

// FilterByTag returns the events carrying a tag with the given
// discriminator. An empty value matches any value of that tag.
func FilterByTag(events []models.FeedEvent, key, value string) []models.FeedEvent {
	out := make([]models.FeedEvent, 0, len(events))
	for _, e := range events {
		if e.HasTag(key, value) {
			out = append(out, e)
		}
	}
	return out
}
