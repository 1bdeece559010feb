package wav_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/vadcapture/pkg/audio/wav"
)

func TestEncode_Header(t *testing.T) {
	t.Parallel()
	samples := make([]float32, 160)
	data, err := wav.Encode(samples, 16000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 44+len(samples)*2 {
		t.Fatalf("len = %d, want %d", len(data), 44+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Errorf("missing RIFF/WAVE markers: %q %q", data[0:4], data[8:12])
	}
	if got := binary.LittleEndian.Uint16(data[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != uint32(len(samples)*2) {
		t.Errorf("data size = %d, want %d", got, len(samples)*2)
	}
}

func TestEncode_InvalidRate(t *testing.T) {
	t.Parallel()
	if _, err := wav.Encode([]float32{0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestEncodeDecode_PreservesSignal(t *testing.T) {
	t.Parallel()
	in := make([]float32, 800)
	for i := range in {
		in[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	data, err := wav.Encode(in, 8000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, rate, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rate != 8000 {
		t.Errorf("rate = %d, want 8000", rate)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-3 {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDecode_Garbage(t *testing.T) {
	t.Parallel()
	_, _, err := wav.Decode(bytes.NewReader([]byte("definitely not a wav file")))
	if !errors.Is(err, wav.ErrInvalidFile) {
		t.Errorf("err = %v, want ErrInvalidFile", err)
	}
}
