// Package cache derives the stable lookup keys for the transcription and
// summary caches. The source key is the first-chance lookup before any bytes
// are downloaded; the content hash is the authoritative identity computed
// from the downloaded file.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
)

// SourceKey builds the pre-download cache key for a submission. Native
// platform uploads are keyed by platform and file reference (the same bytes
// re-sent on one platform reuse the same key); links are keyed by their
// normalized URL.
func SourceKey(platform, kind, ref string) string {
	if kind == "url" {
		return NormalizeURL(ref)
	}
	return platform + ":" + ref
}

var (
	instagramRe = regexp.MustCompile(`/(p|reel|tv)/([A-Za-z0-9_-]+)`)
	tiktokRe    = regexp.MustCompile(`/video/(\d+)`)
	vkRe        = regexp.MustCompile(`video(-?\d+_\d+)`)
)

// trackingPrefixes are query parameter prefixes stripped during generic URL
// normalization so shared links with analytics baggage hit the same cache
// entry.
var trackingPrefixes = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"fbclid", "gclid", "yclid", "msclkid", "_ga", "mc_cid", "mc_eid",
}

// NormalizeURL collapses equivalent media links onto one cache key. Known
// video hosts reduce to "host:video-id"; everything else keeps scheme, host
// and path but loses tracking parameters, fragments and trailing slashes.
// Unparseable input is returned unchanged.
func NormalizeURL(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	u, err := url.Parse(lowered)
	if err != nil {
		return raw
	}
	host := u.Host

	if strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be") {
		var videoID string
		if strings.Contains(host, "youtu.be") {
			videoID = strings.Trim(u.Path, "/")
		} else {
			videoID = u.Query().Get("v")
		}
		if videoID != "" {
			return "youtube:" + videoID
		}
	}
	if strings.Contains(host, "instagram.com") {
		if m := instagramRe.FindStringSubmatch(u.Path); m != nil {
			return "instagram:" + m[2]
		}
	}
	if strings.Contains(host, "tiktok.com") {
		if m := tiktokRe.FindStringSubmatch(u.Path); m != nil {
			return "tiktok:" + m[1]
		}
	}
	if strings.Contains(host, "vk.com") || strings.Contains(host, "vkvideo.ru") {
		if m := vkRe.FindStringSubmatch(u.Path); m != nil {
			return "vk:" + m[1]
		}
	}

	query := u.Query()
	var keys []string
	for k := range query {
		if !isTracking(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, k+"="+query.Get(k))
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = strings.Join(parts, "&")
	u.Fragment = ""
	return u.String()
}

func isTracking(param string) bool {
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(param, p) {
			return true
		}
	}
	return false
}

// FileHash streams a file through SHA-256 and returns the hex digest. This
// is the authoritative cache identity: the same bytes arriving under
// different names or URLs still dedupe.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BytesHash returns the hex SHA-256 of an in-memory payload.
func BytesHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PromptHash fingerprints a system prompt so summary cache entries produced
// under an older prompt are not served after the prompt changes.
func PromptHash(systemPrompt string) string {
	return BytesHash([]byte(systemPrompt))
}
