package sources

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/lensfeed/lensfeed/internal/models"
)

// RSSConfig configures an RSSSource.
type RSSConfig struct {
	Name         string
	FeedURL      string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// RSSSource bridges a media-bearing RSS/Atom document into records. Items
// with image or video enclosures become picture and short-video records
// with synthesized imeta, title and published_at tags; everything else is
// skipped. A feed document only holds its current window, so historical
// queries beyond it come back empty and backward pagination bottoms out
// quickly on this source.
type RSSSource struct {
	name   string
	url    string
	poll   time.Duration
	parser *gofeed.Parser
	logger *slog.Logger
}

func NewRSSSource(cfg RSSConfig) (*RSSSource, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("[RSSSource] Feed URL is required")
	}
	if cfg.Name == "" {
		cfg.Name = "rss"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RSSSource{
		name:   cfg.Name,
		url:    cfg.FeedURL,
		poll:   cfg.PollInterval,
		parser: gofeed.NewParser(),
		logger: cfg.Logger,
	}, nil
}

func (s *RSSSource) Name() string { return s.name }

// Connect fetches and parses the document once.
func (s *RSSSource) Connect(ctx context.Context) error {
	if _, err := s.parser.ParseURLWithContext(s.url, ctx); err != nil {
		return fmt.Errorf("[RSSSource] Failed to fetch feed: %w", err)
	}
	return nil
}

func (s *RSSSource) QueryHistorical(ctx context.Context, f models.Filter) ([]models.RawRecord, error) {
	doc, err := s.parser.ParseURLWithContext(s.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("[RSSSource] Failed to fetch feed: %w", err)
	}

	var out []models.RawRecord
	for _, item := range doc.Items {
		r, ok := recordFromItem(doc, item)
		if !ok || !f.Matches(r) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SubscribeLive polls the document and delivers items not seen by this
// subscription before.
func (s *RSSSource) SubscribeLive(ctx context.Context, f models.Filter, onRecord func(models.RawRecord), onClosed func(error)) (func(), error) {
	// Prime the seen set so the current window does not replay as live.
	seen := make(map[string]struct{})
	if doc, err := s.parser.ParseURLWithContext(s.url, ctx); err == nil {
		for _, item := range doc.Items {
			if r, ok := recordFromItem(doc, item); ok {
				seen[r.ID] = struct{}{}
			}
		}
	} else {
		s.logger.Warn("[RSSSource] Initial fetch failed, live window starts empty",
			slog.String("source", s.name),
			slog.String("error", err.Error()))
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(stopCh) }) }

	go func() {
		defer func() {
			if onClosed != nil {
				onClosed(nil)
			}
		}()

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				doc, err := s.parser.ParseURLWithContext(s.url, ctx)
				if err != nil {
					s.logger.Warn("[RSSSource] Live poll failed",
						slog.String("source", s.name),
						slog.String("error", err.Error()))
					continue
				}
				for _, item := range doc.Items {
					r, ok := recordFromItem(doc, item)
					if !ok {
						continue
					}
					if _, known := seen[r.ID]; known {
						continue
					}
					seen[r.ID] = struct{}{}
					if f.Matches(r) {
						onRecord(r)
					}
				}
			}
		}
	}()
	return stop, nil
}

func (s *RSSSource) Close() error { return nil }

// recordFromItem synthesizes a record from one feed item. The first media
// enclosure decides the kind; every media enclosure becomes an imeta tag.
func recordFromItem(doc *gofeed.Feed, item *gofeed.Item) (models.RawRecord, bool) {
	var tags []models.Tag
	kind := 0
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		isImage := strings.HasPrefix(enc.Type, "image/")
		isVideo := strings.HasPrefix(enc.Type, "video/")
		if !isImage && !isVideo {
			continue
		}
		if kind == 0 {
			if isVideo {
				kind = models.KindShortVideo
			} else {
				kind = models.KindPicture
			}
		}
		tag := models.Tag{"imeta", "url " + enc.URL, "m " + enc.Type}
		if item.Image != nil && item.Image.URL != "" && isVideo {
			tag = append(tag, "image "+item.Image.URL)
		}
		tags = append(tags, tag)
	}
	if kind == 0 {
		return models.RawRecord{}, false
	}

	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		return models.RawRecord{}, false
	}

	published := models.Now()
	if item.PublishedParsed != nil {
		published = models.Timestamp(item.PublishedParsed.Unix())
	} else if item.UpdatedParsed != nil {
		published = models.Timestamp(item.UpdatedParsed.Unix())
	}

	author := doc.Title
	if item.Author != nil && item.Author.Name != "" {
		author = item.Author.Name
	}

	if item.Title != "" {
		tags = append(tags, models.Tag{"title", item.Title})
	}
	tags = append(tags, models.Tag{"published_at", strconv.FormatInt(int64(published), 10)})
	if item.ITunesExt != nil && item.ITunesExt.Duration != "" {
		if _, err := strconv.Atoi(item.ITunesExt.Duration); err == nil {
			tags = append(tags, models.Tag{"duration", item.ITunesExt.Duration})
		}
	}

	content := item.Description
	if content == "" {
		content = item.Content
	}

	return models.RawRecord{
		ID:        id,
		Author:    author,
		CreatedAt: published,
		Kind:      kind,
		Content:   content,
		Tags:      tags,
	}, true
}
