package audio

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ErrGraphClosed is returned when a node is requested from a closed [Graph].
var ErrGraphClosed = errors.New("audio: graph is closed")

// Latency hints understood by capture backends. Any other value is parsed as
// a buffer duration in seconds (e.g. "0.02").
const (
	LatencyInteractive = "interactive"
	LatencyBalanced    = "balanced"
	LatencyPlayback    = "playback"
)

// FrameDuration maps a latency hint to the capture block length. Unknown or
// unparsable hints fall back to the interactive block length.
func FrameDuration(hint string) time.Duration {
	switch hint {
	case LatencyInteractive, "":
		return 20 * time.Millisecond
	case LatencyBalanced:
		return 50 * time.Millisecond
	case LatencyPlayback:
		return 100 * time.Millisecond
	}
	secs, err := strconv.ParseFloat(hint, 64)
	if err != nil || secs <= 0 || secs > 1 {
		return 20 * time.Millisecond
	}
	return time.Duration(secs * float64(time.Second))
}

// GraphState is the lifecycle state of a [Graph].
type GraphState string

const (
	GraphRunning GraphState = "running"
	GraphClosed  GraphState = "closed"
)

// GraphConfig configures a [Graph].
type GraphConfig struct {
	// SampleRate is the processing rate of every node in the graph. Tracks
	// delivering another rate are resampled on entry.
	SampleRate int

	// LatencyHint is forwarded to capture backends as the preferred buffer
	// size: one of the Latency* constants or a duration in seconds.
	LatencyHint string
}

// node is anything the graph releases on Close.
type node interface {
	Disconnect()
}

// Graph is the audio context of one capture session. Every [Splitter]
// created through it is disconnected when the graph is closed.
//
// Graph is safe for concurrent use.
type Graph struct {
	cfg GraphConfig

	mu     sync.Mutex
	nodes  []node
	closed bool
}

// NewGraph returns a running graph. The sample rate must lie in the range
// supported by common audio hardware (3000–384000 Hz).
func NewGraph(cfg GraphConfig) (*Graph, error) {
	if cfg.SampleRate < 3000 || cfg.SampleRate > 384000 {
		return nil, fmt.Errorf("audio: graph sample rate %d out of range [3000, 384000]", cfg.SampleRate)
	}
	if cfg.LatencyHint == "" {
		cfg.LatencyHint = LatencyInteractive
	}
	return &Graph{cfg: cfg}, nil
}

// SampleRate returns the processing rate of the graph.
func (g *Graph) SampleRate() int { return g.cfg.SampleRate }

// LatencyHint returns the configured latency hint.
func (g *Graph) LatencyHint() string { return g.cfg.LatencyHint }

// State reports whether the graph is running or closed.
func (g *Graph) State() GraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return GraphClosed
	}
	return GraphRunning
}

// Connect creates a source node for t and returns the [Splitter] that fans
// its frames out to consumers.
func (g *Graph) Connect(t Track) (*Splitter, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrGraphClosed
	}
	s := newSplitter(t.ID(), t.Frames(), g.cfg.SampleRate)
	g.nodes = append(g.nodes, s)
	return s, nil
}

// Close disconnects every node in reverse creation order. Calling Close more
// than once is safe and returns nil.
func (g *Graph) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	nodes := g.nodes
	g.nodes = nil
	g.mu.Unlock()

	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].Disconnect()
	}
	return nil
}

// Splitter reads one frame stream and copies every frame to each tap. Taps
// never block the source: a tap whose buffer is full misses the frame. Taps
// share the sample slice of each frame and must not modify it.
type Splitter struct {
	label      string
	sampleRate int

	mu     sync.Mutex
	taps   []chan Frame
	closed bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newSplitter(label string, src <-chan Frame, sampleRate int) *Splitter {
	s := &Splitter{
		label:      label,
		sampleRate: sampleRate,
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(src)
	return s
}

// Label returns the ID of the track feeding the splitter.
func (s *Splitter) Label() string { return s.label }

// SampleRate returns the rate of frames delivered to taps.
func (s *Splitter) SampleRate() int { return s.sampleRate }

// Tap registers a new consumer with the given buffer size. The returned
// channel is closed when the source ends or the splitter is disconnected.
func (s *Splitter) Tap(buffer int) <-chan Frame {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Frame, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.taps = append(s.taps, ch)
	return ch
}

// Disconnect stops the fan-out goroutine and closes every tap. Calling it
// more than once is safe.
func (s *Splitter) Disconnect() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Splitter) run(src <-chan Frame) {
	defer s.wg.Done()
	defer s.closeTaps()
	for {
		select {
		case <-s.done:
			return
		case f, ok := <-src:
			if !ok {
				return
			}
			if f.SampleRate > 0 && f.SampleRate != s.sampleRate {
				f.Samples = ResampleFloat32(f.Samples, f.SampleRate, s.sampleRate)
				f.SampleRate = s.sampleRate
			}
			s.broadcast(f)
		}
	}
}

func (s *Splitter) broadcast(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tap := range s.taps {
		select {
		case tap <- f:
		default:
		}
	}
}

func (s *Splitter) closeTaps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, tap := range s.taps {
		close(tap)
	}
	s.taps = nil
}
