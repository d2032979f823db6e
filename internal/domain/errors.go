package domain

import "errors"

// Taxonomía de errores del pipeline. Todos salvo ErrInfrastructure son locales
// a un símbolo o a un par y nunca abortan el run.
var (
	// ErrDataUnavailable: no hay datos para el símbolo. Skip, no consume iteración.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrStaleData: datos viejos tras el refresh. El símbolo se excluye con warning.
	ErrStaleData = errors.New("stale data")
	// ErrExecutionTimeout: el job superó T_max. Falla el job y consume iteración.
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrOptimizerUnavailable: el optimizador ML no responde. El par termina en FAILED.
	ErrOptimizerUnavailable = errors.New("optimizer unavailable")
	// ErrPromotionConflict: el par ya estaba promovido. Se resuelve actualizando el registro.
	ErrPromotionConflict = errors.New("promotion conflict")

	ErrPositionSizeExceeded = errors.New("position size exceeds limit")
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrPhaseRegression      = errors.New("phase regression")
	ErrUnknownStrategy      = errors.New("unknown strategy")

	// ErrInfrastructure: fallo irrecuperable (store inalcanzable). Aborta el run.
	ErrInfrastructure = errors.New("infrastructure fault")
)
