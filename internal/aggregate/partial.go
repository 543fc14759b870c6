// Package aggregate provides per-shard partial aggregates and the
// cross-shard merge rules used by the result merger.
package aggregate

import (
	"fmt"
	"strings"
)

// Type identifies an aggregate function.
type Type int

const (
	Count Type = iota
	Sum
	Min
	Max
	Avg
)

// ParseType converts a function name to an aggregate Type.
func ParseType(name string) (Type, error) {
	switch strings.ToUpper(name) {
	case "COUNT":
		return Count, nil
	case "SUM":
		return Sum, nil
	case "MIN":
		return Min, nil
	case "MAX":
		return Max, nil
	case "AVG":
		return Avg, nil
	default:
		return 0, fmt.Errorf("unknown aggregate function: %s", name)
	}
}

// Partial holds the partial result of one aggregate from a single shard.
// For AVG both Sum and Count are tracked so each shard's own average is
// exact; the cross-shard combination is the mean of those averages.
type Partial struct {
	Type  Type
	Count int64
	Sum   float64
	Min   interface{}
	Max   interface{}
	IsSet bool
}

// NewPartial creates an empty partial aggregate of the given type.
func NewPartial(t Type) *Partial {
	return &Partial{Type: t}
}

// Accumulate adds a single raw value to the partial aggregate. NULLs are
// ignored by every aggregate function.
func (p *Partial) Accumulate(value interface{}) {
	if value == nil {
		return
	}

	switch p.Type {
	case Count:
		p.Count++
		p.IsSet = true
	case Sum, Avg:
		if f, ok := toFloat(value); ok {
			p.Sum += f
			p.Count++
			p.IsSet = true
		}
	case Min:
		if !p.IsSet || compareValues(value, p.Min) < 0 {
			p.Min = value
			p.IsSet = true
		}
		p.Count++
	case Max:
		if !p.IsSet || compareValues(value, p.Max) > 0 {
			p.Max = value
			p.IsSet = true
		}
		p.Count++
	}
}

// Result returns the final value of this partial on its own shard.
func (p *Partial) Result() interface{} {
	if !p.IsSet {
		if p.Type == Count {
			return int64(0)
		}
		return nil
	}

	switch p.Type {
	case Count:
		return p.Count
	case Sum:
		return p.Sum
	case Min:
		return p.Min
	case Max:
		return p.Max
	case Avg:
		if p.Count == 0 {
			return nil
		}
		return p.Sum / float64(p.Count)
	}
	return nil
}

// toFloat converts a value to float64 for numeric aggregation.
func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint:
		return float64(val), true
	}
	return 0, false
}

// compareValues compares two values for MIN/MAX aggregation.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	fa, aOk := toFloat(a)
	fb, bOk := toFloat(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}

	sa := fmt.Sprintf("%v", a)
	sb := fmt.Sprintf("%v", b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}
