package risk

import (
	"encoding/json"
	"fmt"
)

// AgentBudget caps one strategy's daily activity: a maximum number of
// executions and a maximum share of the daily allocated capital.
type AgentBudget struct {
	MaxExecutionsPerDay int     `json:"max_executions_per_day"`
	MaxCapitalPct       float64 `json:"max_capital_pct"`
}

// ParseAgentBudgets decodes the per-agent budget JSON configured for the
// deployment: an object keyed by strategy id. Invalid budget values are a
// load-time error, never coerced at the point of use.
func ParseAgentBudgets(raw string) (map[string]AgentBudget, error) {
	if raw == "" {
		return nil, nil
	}
	budgets := make(map[string]AgentBudget)
	if err := json.Unmarshal([]byte(raw), &budgets); err != nil {
		return nil, fmt.Errorf("agent budget JSON is invalid: %w", err)
	}
	for strategyID, b := range budgets {
		if b.MaxExecutionsPerDay < 0 {
			return nil, fmt.Errorf("agent budget for %s: max_executions_per_day must not be negative", strategyID)
		}
		if b.MaxCapitalPct < 0 || b.MaxCapitalPct > 100 {
			return nil, fmt.Errorf("agent budget for %s: max_capital_pct %v must be within [0,100]", strategyID, b.MaxCapitalPct)
		}
	}
	return budgets, nil
}
