package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Operator selects how an Option is matched.
type Operator string

const (
	// OperatorEquals matches when the input equals Value verbatim.
	OperatorEquals Operator = "equals"
	// OperatorTimeRange matches when the evaluation hour falls in the "<from>-<to>" range in Value.
	OperatorTimeRange Operator = "time_range"
	// OperatorDefault matches only when no other option of the node matched.
	OperatorDefault Operator = "default"
)

// DefaultValue is the value persisted on default rows. Matching never reads it.
const DefaultValue = "default"

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OperatorEquals, OperatorTimeRange, OperatorDefault:
		return true
	}
	return false
}

// Option is one compiled routing rule of a decision node.
type Option struct {
	WidgetID string   `json:"widget_id"`
	Value    string   `json:"value"`
	Operator Operator `json:"operator"`
	Next     string   `json:"next"`
}

// IsDefault reports whether the option is the node's fallback.
func (o Option) IsDefault() bool {
	return o.Operator == OperatorDefault
}

// OptionsByNode is the routing table: options per widget, in stored order.
type OptionsByNode map[string][]Option

// NodeIDs returns the widget ids in a stable order.
func (o OptionsByNode) NodeIDs() []string {
	ids := make([]string, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HourRange is a half-open [From, To) interval of hours of the day.
// A range with From > To wraps midnight.
type HourRange struct {
	From int `json:"from" mapstructure:"from"`
	To   int `json:"to" mapstructure:"to"`
}

// ParseHourRange parses the "<from>-<to>" form stored in time_range options.
func ParseHourRange(s string) (HourRange, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return HourRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	f, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return HourRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	t, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return HourRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	r := HourRange{From: f, To: t}
	if err := r.Validate(); err != nil {
		return HourRange{}, err
	}
	return r, nil
}

// Validate checks the bounds of the range.
func (r HourRange) Validate() error {
	if r.From < 0 || r.From > 23 || r.To < 0 || r.To > 24 || r.From == r.To {
		return fmt.Errorf("%w: %s", ErrInvalidTimeRange, r)
	}
	return nil
}

// Contains reports whether hour (0-23) falls in the range.
func (r HourRange) Contains(hour int) bool {
	if r.From < r.To {
		return hour >= r.From && hour < r.To
	}
	return hour >= r.From || hour < r.To
}

func (r HourRange) String() string {
	return strconv.Itoa(r.From) + "-" + strconv.Itoa(r.To)
}
