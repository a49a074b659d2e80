package sources

import (
	"testing"
	"time"
)

func TestFromEnvRequiresAtLeastOneBackend(t *testing.T) {
	if _, err := FromEnv(testLogger()); err == nil {
		t.Fatal("no configured backends must be an error")
	}
}

func TestFromEnvAssemblesConfiguredBackends(t *testing.T) {
	t.Setenv("LENSFEED_HTTP_SOURCES", "https://records-a.example, https://records-b.example")
	t.Setenv("KAFKA_TOPIC_RECORDS", "lensfeed.records")
	t.Setenv("DYNAMODB_RECORDS_TABLE", "records")
	t.Setenv("LENSFEED_RSS_FEEDS", "https://cam.example/feed.xml")

	srcs, err := FromEnv(testLogger())
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(srcs) != 5 {
		t.Fatalf("got %d sources, want 5", len(srcs))
	}

	names := make([]string, 0, len(srcs))
	for _, s := range srcs {
		names = append(names, s.Name())
	}
	want := []string{"http", "http-2", "kafka", "dynamodb", "rss"}
	for i, name := range want {
		if names[i] != name {
			t.Errorf("source %d = %q, want %q (all: %v)", i, names[i], name, names)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("LENSFEED_TEST_INTERVAL", "250ms")
	if got := getEnvDuration("LENSFEED_TEST_INTERVAL", time.Second); got != 250*time.Millisecond {
		t.Errorf("got %v, want 250ms", got)
	}
	t.Setenv("LENSFEED_TEST_INTERVAL", "not-a-duration")
	if got := getEnvDuration("LENSFEED_TEST_INTERVAL", time.Second); got != time.Second {
		t.Errorf("got %v, want the fallback", got)
	}
	if got := getEnvDuration("LENSFEED_TEST_UNSET", 2*time.Second); got != 2*time.Second {
		t.Errorf("got %v, want the fallback for an unset key", got)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b", 2},
		{" a , , b ", 2},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); len(got) != tt.want {
			t.Errorf("splitList(%q) = %v, want %d entries", tt.in, got, tt.want)
		}
	}
}
