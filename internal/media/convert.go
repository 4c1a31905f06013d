package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// sttSampleRate is the sample rate the speech-to-text providers expect.
const sttSampleRate = 16000

// Converter shells out to ffmpeg to strip video and resample audio.
type Converter struct {
	FFmpegBin string
}

// NewConverter creates a Converter. bin defaults to "ffmpeg" on PATH.
func NewConverter(bin string) *Converter {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Converter{FFmpegBin: bin}
}

// ExtractAudio converts any ffmpeg-readable input into a 16 kHz mono PCM WAV
// next to the input file and returns its path.
func (c *Converter) ExtractAudio(ctx context.Context, inputPath string) (string, error) {
	if _, err := exec.LookPath(c.FFmpegBin); err != nil {
		return "", fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	outPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".wav"
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(sttSampleRate),
		"-ac", "1",
		outPath,
	}

	cmd := exec.CommandContext(ctx, c.FFmpegBin, args...)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg: %w: %s", err, tail(output.String(), 400))
	}
	return outPath, nil
}

// tail returns the last n bytes of s, for error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// WAVDuration inspects a PCM WAV header and computes the clip length.
func WAVDuration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(file, header); err != nil {
		return 0, err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, errors.New("not a WAV file")
	}

	var (
		sampleRate    uint32
		bitsPerSample uint16
		channels      uint16
		dataSize      uint32
	)
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(file, chunkHeader[:]); err != nil {
			return 0, err
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(file, buf); err != nil {
				return 0, err
			}
			if len(buf) < 16 {
				return 0, errors.New("invalid fmt chunk")
			}
			channels = binary.LittleEndian.Uint16(buf[2:4])
			sampleRate = binary.LittleEndian.Uint32(buf[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(buf[14:16])
		case "data":
			dataSize = chunkSize
		default:
			skip := int64(chunkSize)
			if skip%2 == 1 {
				skip++
			}
			if _, err := file.Seek(skip, io.SeekCurrent); err != nil {
				return 0, err
			}
		}
		if chunkID == "data" {
			break
		}
	}

	if sampleRate == 0 || channels == 0 || bitsPerSample == 0 {
		return 0, errors.New("missing audio format information")
	}
	bytesPerSample := (bitsPerSample / 8) * channels
	if bytesPerSample == 0 {
		return 0, errors.New("invalid bytes per sample")
	}
	seconds := float64(dataSize) / float64(bytesPerSample) / float64(sampleRate)
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, errors.New("invalid duration computed")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// writeWAV writes mono 16-bit PCM samples as a WAV file.
func writeWAV(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * 2)

	var header [44]byte
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], 1) // mono
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := f.Write(header[:]); err != nil {
		return err
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	if _, err := f.Write(pcm); err != nil {
		return err
	}
	return f.Close()
}
