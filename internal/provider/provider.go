// Package provider defines the contract between the command evaluator and
// a pluggable set of domain functions, plus the registry that selects a
// concrete provider by name.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"chat2edit/internal/logging"
	"chat2edit/internal/types"
	"chat2edit/internal/value"
)

// DefaultFeedbackText is reported when a batch finishes without any
// function signalling.
const DefaultFeedbackText = "Commands executed successfully."

// File is an attachment as bytes plus its metadata.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Provider is a set of domain functions and the object model they work on.
type Provider interface {
	// Name is the variant name the provider was registered under.
	Name() string

	// Functions returns the callable functions in prompt order.
	Functions() *Registry

	// Exemplars returns example transcripts for locale, falling back to
	// English.
	Exemplars(locale string) []Exemplar

	// DefaultFeedback is used when a function finishes without signalling.
	DefaultFeedback() types.Feedback

	// Alias returns the short name prefix for a value, e.g. "image".
	Alias(v value.Value) (string, bool)

	// ConvertFileToObjects turns an attachment into values to bind.
	ConvertFileToObjects(ctx context.Context, f File) ([]value.Value, error)

	// ConvertObjectToFile turns a response attachment back into a file.
	ConvertObjectToFile(ctx context.Context, v value.Value) (File, error)

	// Codec serializes the provider's objects for Context persistence.
	Codec() value.ObjectCodec

	// Allowed reports whether v may be persisted in the Context.
	Allowed(v value.Value) bool
}

// Options configure a provider instance.
type Options struct {
	// Functions restricts the exposed functions; empty exposes all.
	Functions []string

	Locale       string
	ExemplarsDir string

	InferenceURL     string
	InferenceTimeout time.Duration
	HTTPClient       *http.Client
}

// Factory builds a provider variant.
type Factory func(opts Options) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a provider variant available to New. Variants
// register themselves from init; a duplicate name panics.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if f == nil {
		panic("provider: RegisterFactory factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("provider: RegisterFactory called twice for %s", name))
	}
	factories[name] = f
}

// New builds the provider registered under name.
func New(name string, opts Options) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownProvider, name, Factories())
	}
	p, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	logging.Provider("Provider %s ready with %d functions", name, p.Functions().Count())
	return p, nil
}

// Factories returns the registered variant names, sorted.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Base carries the parts every provider shares. Variants embed it and add
// conversion, aliasing and the codec.
type Base struct {
	name        string
	functions   *Registry
	exemplars   *ExemplarSet
	objectTypes map[string]bool
}

// NewBase builds the shared part. objectTypes lists the object types the
// provider persists.
func NewBase(name string, functions *Registry, exemplars *ExemplarSet, objectTypes ...string) Base {
	if exemplars == nil {
		exemplars = NewExemplarSet()
	}
	known := make(map[string]bool, len(objectTypes))
	for _, t := range objectTypes {
		known[t] = true
	}
	return Base{name: name, functions: functions, exemplars: exemplars, objectTypes: known}
}

// Name returns the variant name.
func (b Base) Name() string { return b.name }

// Functions returns the function registry.
func (b Base) Functions() *Registry { return b.functions }

// Exemplars returns examples for locale.
func (b Base) Exemplars(locale string) []Exemplar { return b.exemplars.Get(locale) }

// ExemplarSet exposes the set for reloading.
func (b Base) ExemplarSet() *ExemplarSet { return b.exemplars }

// DefaultFeedback returns the generic success observation.
func (b Base) DefaultFeedback() types.Feedback {
	return types.Feedback{Status: types.StatusInfo, Text: DefaultFeedbackText}
}

// Allowed accepts scalars and containers of persisted object types. None
// is never persisted.
func (b Base) Allowed(v value.Value) bool {
	if v.IsNone() {
		return false
	}
	return v.Walk(func(item value.Value) bool {
		o, ok := item.Object()
		if !ok {
			return true
		}
		return b.objectTypes[o.ObjectType()]
	})
}
