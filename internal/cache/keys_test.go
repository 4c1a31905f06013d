package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeURL_YouTubeVariants(t *testing.T) {
	want := "youtube:dqw4w9wgxcq"
	variants := []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
		"https://youtu.be/dQw4w9WgXcQ",
		"  https://YOUTU.BE/dQw4w9WgXcQ  ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ&utm_source=share",
	}
	for _, v := range variants {
		if got := NormalizeURL(v); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestNormalizeURL_KnownHosts(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://www.instagram.com/reel/Cxyz_12-ab/?igsh=foo", "instagram:cxyz_12-ab"},
		{"https://www.tiktok.com/@user/video/7284930122334455667", "tiktok:7284930122334455667"},
		{"https://vk.com/video-12345_67890", "vk:-12345_67890"},
		{"https://vkvideo.ru/video123_456", "vk:123_456"},
	}
	for _, tc := range cases {
		if got := NormalizeURL(tc.in); got != tc.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeURL_StripsTrackingAndSlash(t *testing.T) {
	in := "https://example.com/podcast/episode-9/?utm_source=mail&utm_campaign=x&fbclid=abc&page=2"
	want := "https://example.com/podcast/episode-9?page=2"
	if got := NormalizeURL(in); got != want {
		t.Errorf("NormalizeURL = %q, want %q", got, want)
	}
}

func TestNormalizeURL_SortsSurvivingParams(t *testing.T) {
	a := NormalizeURL("https://example.com/a?b=2&a=1")
	b := NormalizeURL("https://example.com/a?a=1&b=2")
	if a != b {
		t.Errorf("param order changed the key: %q vs %q", a, b)
	}
}

func TestSourceKey(t *testing.T) {
	if got := SourceKey("discord", "voice", "att123"); got != "discord:att123" {
		t.Errorf("native source key = %q, want discord:att123", got)
	}
	if got := SourceKey("discord", "url", "https://youtu.be/abc"); got != "youtube:abc" {
		t.Errorf("url source key = %q, want youtube:abc", got)
	}
}

func TestFileHash_MatchesBytesHash(t *testing.T) {
	payload := []byte("the same bytes under any name")
	path := filepath.Join(t.TempDir(), "clip.ogg")
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}

	fromFile, err := FileHash(path)
	if err != nil {
		t.Fatalf("FileHash: %v", err)
	}
	if fromFile != BytesHash(payload) {
		t.Errorf("file hash %q != bytes hash %q", fromFile, BytesHash(payload))
	}
	if len(fromFile) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(fromFile))
	}
}

func TestFileHash_MissingFile(t *testing.T) {
	if _, err := FileHash(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestPromptHash_ChangesWithPrompt(t *testing.T) {
	if PromptHash("summarize briefly") == PromptHash("summarize at length") {
		t.Error("different prompts must produce different hashes")
	}
	if PromptHash("p") != PromptHash("p") {
		t.Error("prompt hash must be deterministic")
	}
}
