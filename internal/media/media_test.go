package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func immediateRetries(n uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, n)
	}
}

func TestFetch_HashesWhileDownloading(t *testing.T) {
	payload := []byte("pretend this is an ogg file")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	d := NewDownloader(WithBackoff(immediateRetries(0)))
	dl, err := d.Fetch(context.Background(), srv.URL, t.TempDir())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	sum := sha256.Sum256(payload)
	if dl.Hash != hex.EncodeToString(sum[:]) {
		t.Errorf("hash = %s, want the payload sha256", dl.Hash)
	}
	if dl.Size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", dl.Size, len(payload))
	}
	got, err := os.ReadFile(dl.Path)
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("file content mismatch (err=%v)", err)
	}
}

func TestFetch_RetriesTransientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(WithBackoff(immediateRetries(5)))
	if _, err := d.Fetch(context.Background(), srv.URL, t.TempDir()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (two 502s then success)", calls)
	}
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(WithBackoff(immediateRetries(5)))
	if _, err := d.Fetch(context.Background(), srv.URL, t.TempDir()); err == nil {
		t.Fatal("expected an error for 404")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", calls)
	}
}

func TestFetch_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 2048))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloader(WithBackoff(immediateRetries(0)), WithMaxSize(1024))
	if _, err := d.Fetch(context.Background(), srv.URL, dir); err == nil {
		t.Fatal("expected an error for an oversized download")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("partial file left behind: %v", entries)
	}
}

func TestWAVDuration_RoundTrip(t *testing.T) {
	// One second of silence at 16 kHz mono.
	samples := make([]int16, sttSampleRate)
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := writeWAV(path, samples, sttSampleRate); err != nil {
		t.Fatalf("writeWAV: %v", err)
	}

	d, err := WAVDuration(path)
	if err != nil {
		t.Fatalf("WAVDuration: %v", err)
	}
	if d != time.Second {
		t.Errorf("duration = %v, want 1s", d)
	}
}

func TestWAVDuration_RejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.wav")
	os.WriteFile(path, []byte("RIFFxxxxJUNK and then some"), 0o600)
	if _, err := WAVDuration(path); err == nil {
		t.Error("expected an error for a non-WAV file")
	}
}

// oggPage assembles a single OGG page around the given segments.
func oggPage(headerType byte, lacings []byte, body []byte) []byte {
	page := make([]byte, 0, 27+len(lacings)+len(body))
	page = append(page, 'O', 'g', 'g', 'S', 0, headerType)
	page = append(page, make([]byte, 20)...) // granule, serial, seq, crc
	page = append(page, byte(len(lacings)))
	page = append(page, lacings...)
	return append(page, body...)
}

func TestOggPackets_SplitsOnLacingBoundaries(t *testing.T) {
	// Two packets on one page: 3 bytes, then 2 bytes.
	page := oggPage(0, []byte{3, 2}, []byte{1, 2, 3, 4, 5})
	packets, err := oggPackets(bytes.NewReader(page))
	if err != nil {
		t.Fatalf("oggPackets: %v", err)
	}
	if len(packets) != 2 {
		t.Fatalf("packets = %d, want 2", len(packets))
	}
	if !bytes.Equal(packets[0], []byte{1, 2, 3}) || !bytes.Equal(packets[1], []byte{4, 5}) {
		t.Errorf("packets = %v, want [1 2 3] and [4 5]", packets)
	}
}

func TestOggPackets_ReassemblesContinuedPacket(t *testing.T) {
	// A 300-byte packet: 255 bytes on page one (lacing 255 = continues),
	// 45 bytes on a continuation page.
	first := bytes.Repeat([]byte{7}, 255)
	rest := bytes.Repeat([]byte{7}, 45)
	stream := append(oggPage(0, []byte{255}, first), oggPage(0x01, []byte{45}, rest)...)

	packets, err := oggPackets(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("oggPackets: %v", err)
	}
	if len(packets) != 1 || len(packets[0]) != 300 {
		t.Fatalf("packets = %d entries, first len %d; want one 300-byte packet", len(packets), len(packets[0]))
	}
}

func TestOggPackets_RejectsGarbage(t *testing.T) {
	if _, err := oggPackets(bytes.NewReader([]byte("definitely not an ogg stream, not even close"))); err == nil {
		t.Error("expected an error for a bad capture pattern")
	}
}

func TestOpusHeadChannels(t *testing.T) {
	head := append([]byte("OpusHead"), 1, 2) // version 1, 2 channels
	ch, err := opusHeadChannels(head)
	if err != nil || ch != 2 {
		t.Errorf("channels = %d err = %v, want 2", ch, err)
	}
	if _, err := opusHeadChannels([]byte("OpusTags")); err == nil {
		t.Error("expected an error for a non-OpusHead packet")
	}
}

func TestDownmix(t *testing.T) {
	stereo := []int16{100, 200, -50, 50}
	mono := downmix(stereo, 2)
	if len(mono) != 2 || mono[0] != 150 || mono[1] != 0 {
		t.Errorf("downmix = %v, want [150 0]", mono)
	}
	passthrough := downmix([]int16{1, 2, 3}, 1)
	if len(passthrough) != 3 {
		t.Errorf("mono input must pass through unchanged, got %v", passthrough)
	}
}

func TestIsVoiceNote(t *testing.T) {
	dir := t.TempDir()
	ogg := filepath.Join(dir, "note.ogg")
	os.WriteFile(ogg, []byte("OggS\x00rest of page"), 0o600)
	if !IsVoiceNote(ogg) {
		t.Error("valid ogg magic with .ogg extension must be a voice note")
	}

	mp4 := filepath.Join(dir, "clip.mp4")
	os.WriteFile(mp4, []byte("OggS"), 0o600)
	if IsVoiceNote(mp4) {
		t.Error("wrong extension must not be a voice note")
	}

	fake := filepath.Join(dir, "fake.ogg")
	os.WriteFile(fake, []byte("RIFF"), 0o600)
	if IsVoiceNote(fake) {
		t.Error("wrong magic must not be a voice note")
	}
}
