// Package wav packs captured speech into 16-bit PCM RIFF/WAVE containers
// and reads them back.
//
// Encoding goes through github.com/go-audio/wav, which needs an
// io.WriteSeeker to patch the header sizes after the data chunk is written;
// [Encode] supplies an in-memory one.
package wav

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/vadcapture/pkg/audio"
)

const (
	bitDepth = 16

	// formatPCM is the WAVE_FORMAT_PCM format tag.
	formatPCM = 1
)

// ErrInvalidFile is returned by [Decode] when the input is not a readable
// PCM WAV file.
var ErrInvalidFile = errors.New("wav: invalid file")

// Encode converts mono float samples to a 16-bit PCM WAV file at sampleRate.
func Encode(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid sample rate %d", sampleRate)
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(audio.Float32ToInt16(s))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	ws := &writeSeeker{}
	enc := gowav.NewEncoder(ws, sampleRate, bitDepth, 1, formatPCM)
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("wav: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: finalise header: %w", err)
	}
	return ws.buf, nil
}

// Decode reads a PCM WAV file and returns its samples down-mixed to mono and
// normalised to [-1, 1], together with the sample rate.
func Decode(r io.ReadSeeker) ([]float32, int, error) {
	dec := gowav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidFile
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("wav: read pcm: %w", err)
	}
	channels := int(dec.NumChans)
	if channels <= 0 {
		channels = 1
	}
	scale := float32(int(1) << (int(dec.BitDepth) - 1))

	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, int(dec.SampleRate), nil
}

// writeSeeker is an in-memory io.WriteSeeker.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		if need > cap(w.buf) {
			grown := make([]byte, need, 2*need)
			copy(grown, w.buf)
			w.buf = grown
		} else {
			w.buf = w.buf[:need]
		}
	}
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("wav: negative seek position")
	}
	w.pos = int(abs)
	return abs, nil
}
