package models

import "testing"

func TestFilterMatches(t *testing.T) {
	until := Timestamp(1000)
	record := RawRecord{ID: "r1", Author: "alice", CreatedAt: 900, Kind: KindPicture}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter matches everything", Filter{}, true},
		{"kind listed", Filter{Kinds: []int{KindPicture, KindShortVideo}}, true},
		{"kind not listed", Filter{Kinds: []int{KindShortVideo}}, false},
		{"author listed", Filter{Authors: []string{"alice"}}, true},
		{"author not listed", Filter{Authors: []string{"bob"}}, false},
		{"within until bound", Filter{Until: &until}, true},
		{"all bounds together", Filter{Kinds: []int{KindPicture}, Authors: []string{"alice"}, Until: &until}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(record); got != tt.want {
				t.Errorf("Matches(%+v) = %t, want %t", tt.filter, got, tt.want)
			}
		})
	}
}

func TestFilterUntilIsInclusive(t *testing.T) {
	until := Timestamp(900)
	f := Filter{Until: &until}

	if !f.Matches(RawRecord{CreatedAt: 900}) {
		t.Error("record at the bound must match")
	}
	if f.Matches(RawRecord{CreatedAt: 901}) {
		t.Error("record past the bound must not match")
	}
}
