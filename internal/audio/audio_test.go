package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 8000 {
		t.Fatalf("sample rate = %d, want 8000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
}

func TestMuLawRoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	decoded := DecodeMuLaw(EncodeMuLaw(pcm))
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pcm))
	}

	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(decoded[i*2:]))
		diff := int32(got) - int32(want)
		if diff < 0 {
			diff = -diff
		}
		// mu-law is lossy; error grows with magnitude but stays within the
		// segment quantization step.
		limit := int32(64)
		if want > 8000 || want < -8000 {
			limit = 2048
		}
		if diff > limit {
			t.Fatalf("sample %d: got %d, want ~%d (diff %d)", i, got, want, diff)
		}
	}
}

func TestPCMFromWAVRoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav, err := EncodeWAVPCM16LE(pcm, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	got, err := PCMFromWAV(wav)
	if err != nil {
		t.Fatalf("PCMFromWAV() error = %v", err)
	}
	if string(got) != string(pcm) {
		t.Fatalf("extracted pcm = %v, want %v", got, pcm)
	}
}

func TestPCMFromWAVRejectsGarbage(t *testing.T) {
	if _, err := PCMFromWAV([]byte("not audio at all")); err == nil {
		t.Fatalf("garbage input should fail")
	}
	if _, err := PCMFromWAV(nil); err == nil {
		t.Fatalf("nil input should fail")
	}
}

func TestDecodeMuLawSilence(t *testing.T) {
	// 0xFF is mu-law for zero amplitude.
	pcm := DecodeMuLaw([]byte{0xFF})
	got := int16(binary.LittleEndian.Uint16(pcm))
	if got != 0 {
		t.Fatalf("decoded silence = %d, want 0", got)
	}
}
