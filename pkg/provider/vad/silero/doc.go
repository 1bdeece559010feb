// Package silero provides a [vad.Classifier] running the Silero VAD v5 ONNX
// model through ONNX Runtime (github.com/yalue/onnxruntime_go).
//
// The runtime is only compiled in with the "silero" build tag; without it
// [New] returns [ErrUnavailable]. The model operates on 512-sample windows at
// 16 kHz; audio at other rates is resampled per window.
package silero

import "errors"

// ErrUnavailable is returned by [New] when the binary was built without the
// silero tag.
var ErrUnavailable = errors.New("silero: backend not available (build with -tags silero)")

// Config locates the model and runtime library.
type Config struct {
	// ModelPath is the silero_vad.onnx file. Required.
	ModelPath string

	// LibraryPath is the onnxruntime shared library. Empty uses the
	// ONNXRUNTIME_LIB environment variable, then the system default.
	LibraryPath string
}
