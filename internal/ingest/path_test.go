package ingest

import "testing"

func TestExtractStreamKey(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"bare key", "abc123", "abc123"},
		{"layout prefix", "live/abc123", "abc123"},
		{"leading slash", "/live/abc123", "abc123"},
		{"trailing slash", "live/abc123/", "abc123"},
		{"query string", "live/abc123?user=x&pass=y", "abc123"},
		{"full url", "rtmp://ingest.example:1935/live/abc123", "abc123"},
		{"empty", "", ""},
		{"only prefix", "live/", ""},
		{"prefix after host", "rtmp://host/live", ""},
		{"only slashes", "///", ""},
		{"only query", "?token=1", ""},
		{"whitespace", "  live/abc123  ", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractStreamKey(tt.path, "live"); got != tt.want {
				t.Errorf("ExtractStreamKey(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestExtractStreamKey_NoPrefix(t *testing.T) {
	if got := ExtractStreamKey("app/abc", ""); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if got := ExtractStreamKey("live", ""); got != "live" {
		t.Errorf("Expected live without a configured prefix, got %q", got)
	}
}
