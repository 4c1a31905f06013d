package whisper

import "testing"

func TestPCMToFloat32Mono_SingleChannel(t *testing.T) {
	// Two samples: 0 and max positive.
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F}
	samples := pcmToFloat32Mono(pcm, 1)
	if len(samples) != 2 {
		t.Fatalf("len = %d, want 2", len(samples))
	}
	if samples[0] != 0 {
		t.Errorf("samples[0] = %f, want 0", samples[0])
	}
	if samples[1] < 0.99 || samples[1] > 1.0 {
		t.Errorf("samples[1] = %f, want ~1.0", samples[1])
	}
}

func TestPCMToFloat32Mono_StereoDownmix(t *testing.T) {
	// One frame: left = max positive, right = 0 → average ~0.5.
	pcm := []byte{0xFF, 0x7F, 0x00, 0x00}
	samples := pcmToFloat32Mono(pcm, 2)
	if len(samples) != 1 {
		t.Fatalf("len = %d, want 1", len(samples))
	}
	if samples[0] < 0.49 || samples[0] > 0.51 {
		t.Errorf("samples[0] = %f, want ~0.5", samples[0])
	}
}

func TestPCMToFloat32Mono_OddTrailingByte(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xAB}
	samples := pcmToFloat32Mono(pcm, 1)
	if len(samples) != 1 {
		t.Fatalf("len = %d, want 1 (odd byte ignored)", len(samples))
	}
}
