package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lensfeed/lensfeed/internal/feed"
	"github.com/lensfeed/lensfeed/internal/models"
)

const (
	profileTimeout   = 5 * time.Second
	loadOlderTimeout = 30 * time.Second
)

// olderResponse extends a page result with the duplicate-exhaustion signal:
// the sources kept answering but every candidate was already in the feed.
// Unlike "exhausted" this is recoverable, so it gets its own field.
type olderResponse struct {
	feed.PageResult
	ExhaustedCandidates bool `json:"exhausted_candidates,omitempty"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	author := q.Get("author")
	tag := q.Get("tag")
	tagValue := q.Get("tagValue")
	if tagValue != "" && tag == "" {
		http.Error(w, "tag required when tagValue is set", http.StatusBadRequest)
		return
	}

	events := s.feed.Snapshot()
	if author != "" {
		events = feed.FilterByAuthor(events, author)
	}
	if tag != "" {
		events = feed.FilterByTag(events, tag, tagValue)
	}
	if events == nil {
		events = []models.FeedEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleLoadOlder(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid page_size", http.StatusBadRequest)
			return
		}
		pageSize = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), loadOlderTimeout)
	defer cancel()

	res, err := s.feed.LoadOlder(ctx, pageSize)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, olderResponse{PageResult: res})
	case errors.Is(err, feed.ErrNoProgress):
		writeJSON(w, http.StatusOK, olderResponse{PageResult: res, ExhaustedCandidates: true})
	case errors.Is(err, feed.ErrAlreadyLoading):
		http.Error(w, "a page load is already in progress", http.StatusConflict)
	case errors.Is(err, feed.ErrFeedEmpty):
		http.Error(w, "feed is empty, nothing to page from", http.StatusConflict)
	default:
		s.logger.Error("[Server] Page load failed", slog.Any("error", err))
		http.Error(w, "load error: "+err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	author := r.PathValue("author")
	if author == "" {
		http.Error(w, "author required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), profileTimeout)
	defer cancel()

	p, ok := s.feed.Profile(ctx, author)
	if !ok {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
