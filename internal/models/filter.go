package models

// Filter bounds a historical query or scopes a live subscription. Until is
// an inclusive upper bound on CreatedAt; nil means "no bound". Empty kind
// and author lists match everything. A zero Limit leaves the page size to
// the source.
type Filter struct {
	Kinds   []int      `json:"kinds,omitempty"`
	Authors []string   `json:"authors,omitempty"`
	Until   *Timestamp `json:"until,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// MatchesKind reports whether a record kind passes the filter. An empty
// kind list matches everything.
func (f Filter) MatchesKind(kind int) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// MatchesAuthor reports whether an author passes the filter. An empty
// author list matches everything.
func (f Filter) MatchesAuthor(author string) bool {
	if len(f.Authors) == 0 {
		return true
	}
	for _, a := range f.Authors {
		if a == author {
			return true
		}
	}
	return false
}

// Matches reports whether a record passes the filter's kind, author and
// time bounds.
func (f Filter) Matches(r RawRecord) bool {
	if !f.MatchesKind(r.Kind) || !f.MatchesAuthor(r.Author) {
		return false
	}
	if f.Until != nil && r.CreatedAt > *f.Until {
		return false
	}
	return true
}
