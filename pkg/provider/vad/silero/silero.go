//go:build silero

package silero

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/vadcapture/pkg/audio"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

const (
	modelRate  = 16000
	windowSize = 512
	stateSize  = 128
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

var _ vad.Classifier = (*Classifier)(nil)

// Available reports whether the ONNX runtime is compiled in.
func Available() bool { return true }

// Classifier holds one ONNX session and its reusable tensors.
type Classifier struct {
	inRate int
	window int

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	state   *ort.Tensor[float32]
	sr      *ort.Tensor[int64]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]
}

// New loads the model for audio at sampleRate.
func New(sampleRate int, cfg Config) (vad.Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("silero: model path is required")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("silero: invalid sample rate %d", sampleRate)
	}
	ortInitOnce.Do(func() {
		lib := cfg.LibraryPath
		if lib == "" {
			lib = os.Getenv("ONNXRUNTIME_LIB")
		}
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: init onnxruntime: %w", ortInitErr)
	}

	c := &Classifier{inRate: sampleRate, window: windowSize * sampleRate / modelRate}
	var err error
	if c.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, windowSize)); err != nil {
		return nil, c.fail("input tensor", err)
	}
	if c.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		return nil, c.fail("state tensor", err)
	}
	if c.sr, err = ort.NewTensor(ort.NewShape(1), []int64{modelRate}); err != nil {
		return nil, c.fail("sr tensor", err)
	}
	if c.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, c.fail("output tensor", err)
	}
	if c.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, stateSize)); err != nil {
		return nil, c.fail("stateN tensor", err)
	}
	clear(c.state.GetData())
	clear(c.stateN.GetData())

	c.session, err = ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{c.input, c.state, c.sr},
		[]ort.Value{c.output, c.stateN},
		nil,
	)
	if err != nil {
		return nil, c.fail("session", err)
	}
	return c, nil
}

// Factory adapts [New] to a [vad.ClassifierFactory].
func Factory(cfg Config) vad.ClassifierFactory {
	return func(sampleRate int) (vad.Classifier, error) { return New(sampleRate, cfg) }
}

func (c *Classifier) fail(what string, err error) error {
	_ = c.Close()
	return fmt.Errorf("silero: create %s: %w", what, err)
}

func (c *Classifier) WindowSize() int { return c.window }

func (c *Classifier) Classify(window []float32) (float64, error) {
	in := c.input.GetData()
	if c.inRate == modelRate {
		copy(in, window)
	} else {
		clear(in)
		copy(in, audio.ResampleFloat32(window, c.inRate, modelRate))
	}
	if err := c.session.Run(); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	copy(c.state.GetData(), c.stateN.GetData())
	return float64(c.output.GetData()[0]), nil
}

// Reset clears the recurrent state.
func (c *Classifier) Reset() {
	if c.state != nil {
		clear(c.state.GetData())
	}
}

// Close releases the session and tensors. Safe to call more than once.
func (c *Classifier) Close() error {
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{c.input, c.state, c.output, c.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	c.input, c.state, c.output, c.stateN = nil, nil, nil, nil
	if c.sr != nil {
		c.sr.Destroy()
		c.sr = nil
	}
	return nil
}
