package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"layeh.com/gopus"
)

// Opus in an OGG container always decodes at 48 kHz; voice notes are mono.
const (
	opusSampleRate = 48000
	// opusMaxFrameSize is the largest frame Opus allows: 120 ms at 48 kHz.
	opusMaxFrameSize = opusSampleRate * 120 / 1000
)

// IsVoiceNote reports whether the file looks like an OGG/Opus voice note
// that the native decode path can handle without ffmpeg.
func IsVoiceNote(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ogg", ".oga", ".opus":
	default:
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return false
	}
	return string(magic[:]) == "OggS"
}

// DecodeVoiceNote decodes an OGG/Opus voice note into a 48 kHz mono PCM WAV
// next to the input and returns its path. Stereo notes are downmixed.
func DecodeVoiceNote(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("decode voice note: %w", err)
	}
	defer f.Close()

	packets, err := oggPackets(f)
	if err != nil {
		return "", fmt.Errorf("decode voice note: %w", err)
	}
	if len(packets) < 3 {
		return "", errors.New("decode voice note: no audio packets")
	}

	channels, err := opusHeadChannels(packets[0])
	if err != nil {
		return "", fmt.Errorf("decode voice note: %w", err)
	}

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return "", fmt.Errorf("decode voice note: create decoder: %w", err)
	}

	// packets[0] is OpusHead and packets[1] is OpusTags; audio starts at 2.
	var samples []int16
	for _, pkt := range packets[2:] {
		pcm, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			return "", fmt.Errorf("decode voice note: opus decode: %w", err)
		}
		samples = append(samples, downmix(pcm, channels)...)
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".wav"
	if err := writeWAV(outPath, samples, opusSampleRate); err != nil {
		return "", fmt.Errorf("decode voice note: write wav: %w", err)
	}
	return outPath, nil
}

// downmix averages interleaved channels into mono. Mono input passes
// through.
func downmix(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	out := make([]int16, len(pcm)/channels)
	for i := range out {
		var sum int
		for ch := 0; ch < channels; ch++ {
			sum += int(pcm[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// opusHeadChannels extracts the channel count from an OpusHead packet.
func opusHeadChannels(head []byte) (int, error) {
	if len(head) < 10 || string(head[:8]) != "OpusHead" {
		return 0, errors.New("first packet is not OpusHead")
	}
	channels := int(head[9])
	if channels < 1 || channels > 2 {
		return 0, fmt.Errorf("unsupported channel count %d", channels)
	}
	return channels, nil
}

// oggPackets reads an OGG stream and reassembles its logical packets.
// Packets spanning page boundaries (continuation pages) are stitched back
// together.
func oggPackets(r io.Reader) ([][]byte, error) {
	var (
		packets [][]byte
		partial []byte
	)
	for {
		var header [27]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if string(header[0:4]) != "OggS" {
			return nil, errors.New("bad ogg page capture pattern")
		}
		if header[4] != 0 {
			return nil, fmt.Errorf("unsupported ogg version %d", header[4])
		}
		continued := header[5]&0x01 != 0
		if !continued && len(partial) > 0 {
			// The previous page promised a continuation that never came.
			partial = nil
		}

		segCount := int(header[26])
		segTable := make([]byte, segCount)
		if _, err := io.ReadFull(r, segTable); err != nil {
			return nil, err
		}

		for _, lacing := range segTable {
			seg := make([]byte, int(lacing))
			if _, err := io.ReadFull(r, seg); err != nil {
				return nil, err
			}
			partial = append(partial, seg...)
			// A lacing value below 255 terminates the packet; a packet
			// whose last segment is exactly 255 continues on the next page.
			if lacing < 255 {
				packets = append(packets, partial)
				partial = nil
			}
		}
	}
	return packets, nil
}
