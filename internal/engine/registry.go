package engine

import (
	"errors"
	"fmt"
	"log"

	"avanevis/internal/config"
	"avanevis/internal/model"
)

// ErrUnknownEngine is returned when a job names an engine that is not
// registered (missing token or unsupported tag).
var ErrUnknownEngine = errors.New("unknown engine")

// Registry holds the closed set of configured engines, selected by the
// tag stored on each job.
type Registry struct {
	engines map[model.EngineName]Engine
}

// NewRegistry builds a registry from explicit engines. Used by tests to
// plug in fakes.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[model.EngineName]Engine, len(engines))}
	for _, e := range engines {
		r.engines[e.Name()] = e
	}
	return r
}

// NewRegistryFromConfig registers every provider that has a token
// configured. At least one provider must be usable.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	var engines []Engine

	if cfg.EbooToken != "" {
		log.Printf("[Engine] Registering Eboo provider")
		engines = append(engines, NewEboo(cfg.EbooToken, cfg.EbooURL))
	}
	if cfg.ViraToken != "" {
		log.Printf("[Engine] Registering Vira provider")
		engines = append(engines, NewVira(cfg.ViraToken, cfg.ViraURL))
	}
	if cfg.ScribeToken != "" {
		log.Printf("[Engine] Registering Scribe provider")
		engines = append(engines, NewScribe(cfg.ScribeToken, cfg.ScribeStorageURL, cfg.ScribeGenerateURL))
	}

	if len(engines) == 0 {
		return nil, fmt.Errorf("no transcription engine configured: set at least one of EBOO_TOKEN, VIRA_TOKEN, SCRIBE_TOKEN")
	}
	return NewRegistry(engines...), nil
}

// Get resolves an engine by its job tag.
func (r *Registry) Get(name model.EngineName) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, name)
	}
	return e, nil
}

// Names lists the registered engine tags.
func (r *Registry) Names() []model.EngineName {
	names := make([]model.EngineName, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}
