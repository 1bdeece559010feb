package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vadcapture/pkg/audio"
	nsprovider "github.com/MrWong99/vadcapture/pkg/provider/suppression"
	"github.com/MrWong99/vadcapture/pkg/provider/stt"
	"github.com/MrWong99/vadcapture/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	microphone  map[string]func(ProviderEntry) (audio.Microphone, error)
	vad         map[string]func(ProviderEntry) (vad.Engine, error)
	suppression map[string]func(ProviderEntry) (nsprovider.Factory, error)
	stt         map[string]func(ProviderEntry) (stt.Transcriber, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		microphone:  make(map[string]func(ProviderEntry) (audio.Microphone, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Engine, error)),
		suppression: make(map[string]func(ProviderEntry) (nsprovider.Factory, error)),
		stt:         make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
	}
}

// RegisterMicrophone registers a microphone backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterMicrophone(name string, factory func(ProviderEntry) (audio.Microphone, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.microphone[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSuppression registers a suppression backend under name. The
// factory returns the per-session processor constructor.
func (r *Registry) RegisterSuppression(name string, factory func(ProviderEntry) (nsprovider.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppression[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateMicrophone instantiates a microphone backend using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateMicrophone(entry ProviderEntry) (audio.Microphone, error) {
	r.mu.RLock()
	factory, ok := r.microphone[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: microphone/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSuppression returns the processor constructor registered under entry.Name.
func (r *Registry) CreateSuppression(entry ProviderEntry) (nsprovider.Factory, error) {
	r.mu.RLock()
	factory, ok := r.suppression[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: suppression/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted provider names registered for kind ("microphone",
// "vad", "suppression" or "stt").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "microphone":
		names = keys(r.microphone)
	case "vad":
		names = keys(r.vad)
	case "suppression":
		names = keys(r.suppression)
	case "stt":
		names = keys(r.stt)
	}
	slices.Sort(names)
	return names
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
