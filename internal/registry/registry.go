// Package registry holds the model backends the orchestrator can dispatch to
// and scores them against tasks.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"taskorch/internal/task"
)

// ErrInvalidDescriptor is returned when a descriptor cannot be registered.
var ErrInvalidDescriptor = errors.New("invalid model descriptor")

// Descriptor describes a model backend.
type Descriptor struct {
	Name         string   `json:"name" yaml:"name" mapstructure:"name"`
	Endpoint     string   `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Credential   string   `json:"credential,omitempty" yaml:"credential" mapstructure:"credential"`
	MaxTokens    int      `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64  `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	Capabilities []string `json:"capabilities" yaml:"capabilities" mapstructure:"capabilities"`
	CostPerUnit  float64  `json:"cost_per_unit" yaml:"cost_per_unit" mapstructure:"cost_per_unit"`
}

// Validate requires a name and non-negative numeric fields.
func (d Descriptor) Validate() error {
	switch {
	case strings.TrimSpace(d.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	case d.MaxTokens < 0:
		return fmt.Errorf("%w: %s: max_tokens must be >= 0", ErrInvalidDescriptor, d.Name)
	case d.CostPerUnit < 0:
		return fmt.Errorf("%w: %s: cost_per_unit must be >= 0", ErrInvalidDescriptor, d.Name)
	}
	return nil
}

// HasCapability reports whether the backend advertises capability.
func (d Descriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Redacted returns a copy safe to expose over the API.
func (d Descriptor) Redacted() Descriptor {
	out := d.clone()
	if out.Credential != "" {
		out.Credential = "***"
	}
	return out
}

func (d Descriptor) clone() Descriptor {
	d.Capabilities = append([]string(nil), d.Capabilities...)
	return d
}

var kindCapabilities = map[task.Kind][]string{
	task.KindCompletion: {"text-generation", "chat"},
	task.KindAnalysis:   {"reasoning", "data-analysis"},
	task.KindPrediction: {"forecasting", "time-series"},
	task.KindGeneration: {"text-generation", "image-generation"},
	task.KindVision:     {"image-understanding", "ocr"},
	task.KindVoice:      {"speech-to-text", "text-to-speech"},
}

// CapabilitiesFor returns the capabilities a backend needs to serve kind.
func CapabilitiesFor(kind task.Kind) []string {
	return append([]string(nil), kindCapabilities[kind]...)
}

const (
	capabilityWeight = 10.0
	costWeight       = 0.001
	requestedBonus   = 100.0
)

// Score rates d for t: +10 per matching capability, minus costPerUnit/1000,
// +100 when t requested d by name.
func Score(d Descriptor, t *task.Task) float64 {
	score := 0.0
	for _, capability := range kindCapabilities[t.Kind] {
		if d.HasCapability(capability) {
			score += capabilityWeight
		}
	}
	score -= d.CostPerUnit * costWeight
	if t.RequestedModel != "" && t.RequestedModel == d.Name {
		score += requestedBonus
	}
	return score
}

// Registry stores descriptors in registration order. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds d or replaces the descriptor with the same name. A replaced
// descriptor keeps its original registration position.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = d.clone()
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// List returns every descriptor in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].clone())
	}
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// SelectOptimalModel returns the highest scoring descriptor for t. Ties go to
// the earliest registered. The boolean is false when the registry is empty.
func (r *Registry) SelectOptimalModel(t *task.Task) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		best      Descriptor
		bestScore float64
		found     bool
	)
	for _, name := range r.order {
		d := r.byName[name]
		score := Score(d, t)
		if !found || score > bestScore {
			best, bestScore, found = d, score, true
		}
	}
	if !found {
		return Descriptor{}, false
	}
	return best.clone(), true
}
