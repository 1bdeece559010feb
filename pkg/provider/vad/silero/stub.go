//go:build !silero

package silero

import "github.com/MrWong99/vadcapture/pkg/provider/vad"

// Available reports whether the ONNX runtime is compiled in.
func Available() bool { return false }

// New returns ErrUnavailable.
func New(_ int, _ Config) (vad.Classifier, error) { return nil, ErrUnavailable }

// Factory adapts [New] to a [vad.ClassifierFactory].
func Factory(cfg Config) vad.ClassifierFactory {
	return func(sampleRate int) (vad.Classifier, error) { return New(sampleRate, cfg) }
}
