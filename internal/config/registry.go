package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/batch"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its configuration entry and the surrounding
// config (capture format, upload limits).
type Factory[T any] func(entry ProviderEntry, cfg *Config) (T, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	streaming map[string]Factory[stt.Provider]
	batch     map[string]Factory[batch.Recognizer]
	audio     map[string]Factory[audio.Device]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		streaming: make(map[string]Factory[stt.Provider]),
		batch:     make(map[string]Factory[batch.Recognizer]),
		audio:     make(map[string]Factory[audio.Device]),
	}
}

// RegisterStreaming registers a streaming recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStreaming(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streaming[name] = factory
}

// RegisterBatch registers a batch recognizer factory under name.
func (r *Registry) RegisterBatch(name string, factory Factory[batch.Recognizer]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch[name] = factory
}

// RegisterAudio registers an input device factory under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Device]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateStreaming instantiates the streaming recognizer registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateStreaming(entry ProviderEntry, cfg *Config) (stt.Provider, error) {
	return create(r, r.streaming, "streaming", entry, cfg)
}

// CreateBatch instantiates the batch recognizer registered under entry.Name.
func (r *Registry) CreateBatch(entry ProviderEntry, cfg *Config) (batch.Recognizer, error) {
	return create(r, r.batch, "batch", entry, cfg)
}

// CreateAudio instantiates the input device registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry, cfg *Config) (audio.Device, error) {
	return create(r, r.audio, "audio", entry, cfg)
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry, cfg *Config) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry, cfg)
}
