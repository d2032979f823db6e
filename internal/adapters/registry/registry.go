package registry

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/stratbot/internal/domain"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Entry es la configuración de una estrategia en el registry.
type Entry struct {
	Baseline domain.Parameters       `yaml:"baseline"`
	Bounds   map[string]domain.Bound `yaml:"bounds"`
	Targets  domain.Targets          `yaml:"targets"`
}

type file struct {
	Strategies map[domain.StrategyID]Entry `yaml:"strategies"`
}

// Registry sirve parámetros baseline, rangos y targets por estrategia.
// Implementa ports.ParameterRegistry, ports.TargetRegistry y ports.SchemaProvider.
// Es de solo lectura tras construirse: seguro para uso concurrente.
type Registry struct {
	entries map[domain.StrategyID]Entry
}

// Default devuelve el registry con los valores embebidos.
func Default() *Registry {
	r, err := parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded defaults: %v", err))
	}
	return r
}

// Load lee un fichero de registry y lo fusiona sobre los valores por defecto.
// Una estrategia presente en el fichero reemplaza las secciones que define
// (baseline, bounds, targets); el resto se hereda.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry.Load: read %q: %w", path, err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("registry.Load: %q: %w", path, err)
	}

	r := Default()
	for id, e := range override.entries {
		base := r.entries[id]
		if len(e.Baseline) > 0 {
			base.Baseline = e.Baseline
		}
		if len(e.Bounds) > 0 {
			base.Bounds = e.Bounds
		}
		if e.Targets != (domain.Targets{}) {
			base.Targets = e.Targets
		}
		r.entries[id] = base
	}
	return r, nil
}

func parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	known := make(map[domain.StrategyID]bool, len(domain.AllStrategies))
	for _, id := range domain.AllStrategies {
		known[id] = true
	}
	for id, e := range f.Strategies {
		if !known[id] {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStrategy, id)
		}
		for name, b := range e.Bounds {
			if b.Min > b.Max {
				return nil, fmt.Errorf("%s: bound %s: min %.4f > max %.4f", id, name, b.Min, b.Max)
			}
		}
	}
	if f.Strategies == nil {
		f.Strategies = make(map[domain.StrategyID]Entry)
	}
	return &Registry{entries: f.Strategies}, nil
}

// BaselineParameters implementa ports.ParameterRegistry. Devuelve una copia.
func (r *Registry) BaselineParameters(_ context.Context, strategy domain.StrategyID) (domain.Parameters, error) {
	e, ok := r.entries[strategy]
	if !ok || len(e.Baseline) == 0 {
		return nil, fmt.Errorf("registry.BaselineParameters: %w: %s", domain.ErrUnknownStrategy, strategy)
	}
	return e.Baseline.Clone(), nil
}

// TargetThresholds implementa ports.TargetRegistry.
func (r *Registry) TargetThresholds(_ context.Context, strategy domain.StrategyID) (domain.Targets, error) {
	e, ok := r.entries[strategy]
	if !ok {
		return domain.Targets{}, fmt.Errorf("registry.TargetThresholds: %w: %s", domain.ErrUnknownStrategy, strategy)
	}
	return e.Targets, nil
}

// ParameterBounds implementa ports.SchemaProvider. Sin rangos devuelve un mapa vacío.
func (r *Registry) ParameterBounds(_ context.Context, strategy domain.StrategyID) (map[string]domain.Bound, error) {
	e, ok := r.entries[strategy]
	if !ok {
		return nil, fmt.Errorf("registry.ParameterBounds: %w: %s", domain.ErrUnknownStrategy, strategy)
	}
	out := make(map[string]domain.Bound, len(e.Bounds))
	for k, b := range e.Bounds {
		out[k] = b
	}
	return out, nil
}
