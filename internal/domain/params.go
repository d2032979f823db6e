package domain

import (
	"fmt"
	"math"
	"sort"
)

// ParamPositionSize es la fracción del capital por posición. Tiene guard duro.
const ParamPositionSize = "position_size"

// DefaultMaxPositionSize es el límite duro de position_size (10% del capital).
const DefaultMaxPositionSize = 0.10

// Parameters es el set de parámetros numéricos de una estrategia.
// Se valida contra un ParamSchema antes de programar cualquier job.
type Parameters map[string]float64

// Clone devuelve una copia independiente.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// PositionSize devuelve position_size (0 si no está definido).
func (p Parameters) PositionSize() float64 {
	return p[ParamPositionSize]
}

// Get devuelve el valor o def si no existe.
func (p Parameters) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Keys devuelve los nombres ordenados para iterar de forma determinista.
func (p Parameters) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal compara dos sets de parámetros con tolerancia.
func (p Parameters) Equal(o Parameters) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || math.Abs(v-ov) > 1e-12 {
			return false
		}
	}
	return true
}

// Bound es el rango válido de un parámetro.
type Bound struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ParamSchema valida parámetros en la frontera de la búsqueda.
type ParamSchema struct {
	MaxPositionSize float64
	Bounds          map[string]Bound
}

// DefaultParamSchema devuelve el schema con el guard de position_size por defecto.
func DefaultParamSchema() ParamSchema {
	return ParamSchema{MaxPositionSize: DefaultMaxPositionSize}
}

// Validate rechaza sets inválidos. Un set rechazado nunca se ejecuta.
func (s ParamSchema) Validate(p Parameters) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: empty parameter set", ErrInvalidParameters)
	}
	for _, k := range p.Keys() {
		v := p[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidParameters, k)
		}
		if b, ok := s.Bounds[k]; ok && (v < b.Min || v > b.Max) {
			return fmt.Errorf("%w: %s=%.6f outside [%.6f, %.6f]", ErrInvalidParameters, k, v, b.Min, b.Max)
		}
	}
	size, ok := p[ParamPositionSize]
	if !ok || size <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidParameters, ParamPositionSize)
	}
	limit := s.MaxPositionSize
	if limit <= 0 {
		limit = DefaultMaxPositionSize
	}
	if size > limit {
		return fmt.Errorf("%w: %.4f > %.4f", ErrPositionSizeExceeded, size, limit)
	}
	return nil
}
