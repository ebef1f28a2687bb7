package model

import (
	"fmt"
	"time"
)

// Severity orders alert levels from least to most urgent.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	case SeverityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a config string to a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	case "emergency":
		return SeverityEmergency, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// MarshalJSON emits the severity as its string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	v, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Condition is the comparison operator of an alert rule.
type Condition string

const (
	CondGT Condition = "gt"
	CondLT Condition = "lt"
	CondEQ Condition = "eq"
	CondNE Condition = "ne"
	CondGE Condition = "ge"
	CondLE Condition = "le"
)

// Eval applies the operator to (value, threshold).
func (c Condition) Eval(value, threshold float64) bool {
	switch c {
	case CondGT:
		return value > threshold
	case CondLT:
		return value < threshold
	case CondEQ:
		return value == threshold
	case CondNE:
		return value != threshold
	case CondGE:
		return value >= threshold
	case CondLE:
		return value <= threshold
	}
	return false
}

// Valid reports whether the operator is one of the known six.
func (c Condition) Valid() bool {
	switch c {
	case CondGT, CondLT, CondEQ, CondNE, CondGE, CondLE:
		return true
	}
	return false
}

// AlertRule is a named, persistent condition over a metric. Name is the unique
// immutable key; rules are only toggled at runtime, never deleted.
type AlertRule struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	MetricName  string            `json:"metric_name"`
	Condition   Condition         `json:"condition"`
	Threshold   float64           `json:"threshold"`
	Severity    Severity          `json:"severity"`
	TagsFilter  map[string]string `json:"tags_filter,omitempty"`
	Cooldown    time.Duration     `json:"cooldown_period"`
	Enabled     bool              `json:"enabled"`
	Channels    []string          `json:"channels,omitempty"` // empty = all registered channels
}

// MatchesTags reports whether every filter key is present in tags with an
// exactly equal value. A missing key never matches; tags may carry extra keys.
func (r *AlertRule) MatchesTags(tags map[string]string) bool {
	for k, want := range r.TagsFilter {
		if got, ok := tags[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// Alert is one instance of a rule firing. Created by the engine, mutated only
// by Resolve; dispatch never touches it.
type Alert struct {
	ID           string            `json:"alert_id"`
	RuleName     string            `json:"rule_name"`
	MetricName   string            `json:"metric_name"`
	CurrentValue float64           `json:"current_value"`
	Threshold    float64           `json:"threshold"`
	Severity     Severity          `json:"severity"`
	Message      string            `json:"message"`
	Timestamp    float64           `json:"timestamp"`
	Tags         map[string]string `json:"tags,omitempty"`
	Resolved     bool              `json:"resolved"`
	ResolvedAt   *float64          `json:"resolved_timestamp,omitempty"`
}
