package domain

// RuleDefinition describes one validation rule. Built-in rules are
// identified by RuleID and carry their thresholds in Parameters; custom
// tenant rules additionally carry a CEL expression evaluated inside the
// family engine.
type RuleDefinition struct {
	RuleID   string     `json:"ruleId"`
	RuleName string     `json:"ruleName"`
	Family   RuleFamily `json:"family"`

	// CEL expression for custom rules; empty for built-ins.
	// A true result rejects the payment.
	Expression string `json:"expression,omitempty"`

	// Priority orders rules within a family, lower first.
	Priority int `json:"priority"`

	// Whether the rule participates in validation
	Active bool `json:"active"`

	TenantID string `json:"tenantId"`
	Version  string `json:"version"`

	// Thresholds, deltas, patterns and other tunables
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ExecutionPolicy controls how the dispatcher runs the four families.
type ExecutionPolicy struct {
	Parallel              bool `json:"parallel"`
	MaxParallelRules      int  `json:"maxParallelRules"`
	PerValidationBudgetMs int  `json:"perValidationBudgetMs"`
	CacheEnabled          bool `json:"cacheEnabled"`
	CacheCapacity         int  `json:"cacheCapacity"`
}

// ParamFloat returns a numeric parameter, falling back to def when the
// parameter is absent or not a number. JSON decoding yields float64 for
// all numbers, so int values are accepted too.
func (r *RuleDefinition) ParamFloat(key string, def float64) float64 {
	if r.Parameters == nil {
		return def
	}
	switch v := r.Parameters[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// ParamInt returns an integer parameter, falling back to def.
func (r *RuleDefinition) ParamInt(key string, def int) int {
	return int(r.ParamFloat(key, float64(def)))
}

// ParamString returns a string parameter, falling back to def.
func (r *RuleDefinition) ParamString(key string, def string) string {
	if r.Parameters == nil {
		return def
	}
	if v, ok := r.Parameters[key].(string); ok {
		return v
	}
	return def
}

// ParamStrings returns a string-list parameter, or nil when absent.
func (r *RuleDefinition) ParamStrings(key string) []string {
	if r.Parameters == nil {
		return nil
	}
	switch v := r.Parameters[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
