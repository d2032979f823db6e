package optimizer

// Tipos de la API HTTP del optimizador.

type historyEntry struct {
	Iteration   int                `json:"iteration"`
	Parameters  map[string]float64 `json:"parameters"`
	SharpeRatio float64            `json:"sharpe_ratio"`
	TotalReturn float64            `json:"total_return"`
	MaxDrawdown float64            `json:"max_drawdown"`
	WinRate     float64            `json:"win_rate"`
	TradeCount  int                `json:"trade_count"`
}

type suggestRequest struct {
	Symbol   string         `json:"symbol"`
	Strategy string         `json:"strategy"`
	History  []historyEntry `json:"history"`
}

// suggestResponse: parameters null o vacío = sin propuesta.
type suggestResponse struct {
	Parameters map[string]float64 `json:"parameters"`
	Reason     string             `json:"reason,omitempty"`
}
