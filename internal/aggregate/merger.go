package aggregate

import (
	"encoding/json"
	"strings"
)

// FromShardValue wraps a value a shard already aggregated locally as a
// Partial, so the cross-shard rules apply uniformly whether partials were
// accumulated row by row or received pre-reduced.
func FromShardValue(t Type, v interface{}) *Partial {
	p := NewPartial(t)
	if v == nil {
		return p
	}
	switch t {
	case Count:
		switch n := v.(type) {
		case int64:
			p.Count = n
			p.IsSet = true
		case int:
			p.Count = int64(n)
			p.IsSet = true
		case float64:
			p.Count = int64(n)
			p.IsSet = true
		}
	case Sum, Avg:
		if f, ok := toFloat(v); ok {
			p.Sum = f
			p.Count = 1
			p.IsSet = true
		}
	case Min:
		p.Min = v
		p.IsSet = true
	case Max:
		p.Max = v
		p.IsSet = true
	}
	return p
}

// MergeColumn combines the per-shard partials of one aggregate column into
// its final value. The rules are:
//   - COUNT: sum of per-shard counts
//   - SUM:   sum of per-shard sums
//   - MIN:   minimum of per-shard minimums
//   - MAX:   maximum of per-shard maximums
//   - AVG:   arithmetic mean of the per-shard averages. This is an
//     approximation when shard row counts differ; the exact alternative
//     (global SUM / global COUNT) would require rewriting AVG before fan-out.
func MergeColumn(partials []*Partial) interface{} {
	if len(partials) == 0 {
		return nil
	}

	aggType := partials[0].Type
	switch aggType {
	case Count:
		var total int64
		for _, p := range partials {
			total += p.Count
		}
		return total

	case Sum:
		var total float64
		seen := false
		for _, p := range partials {
			if p.IsSet {
				total += p.Sum
				seen = true
			}
		}
		if !seen {
			return nil
		}
		return total

	case Min:
		var best interface{}
		for _, p := range partials {
			if !p.IsSet {
				continue
			}
			if best == nil || compareValues(p.Min, best) < 0 {
				best = p.Min
			}
		}
		return best

	case Max:
		var best interface{}
		for _, p := range partials {
			if !p.IsSet {
				continue
			}
			if best == nil || compareValues(p.Max, best) > 0 {
				best = p.Max
			}
		}
		return best

	case Avg:
		var sum float64
		var n int
		for _, p := range partials {
			if !p.IsSet || p.Count == 0 {
				continue
			}
			sum += p.Sum / float64(p.Count)
			n++
		}
		if n == 0 {
			return nil
		}
		return sum / float64(n)
	}
	return nil
}

// GroupKey is the canonical string form of a GROUP BY tuple, used to
// combine groups across shards.
type GroupKey = string

// GroupKeyFor builds the canonical key for a tuple of GROUP BY values.
// Each value is JSON-canonicalized so that, e.g., the string "1" and the
// number 1 form distinct groups.
func GroupKeyFor(vals []interface{}) GroupKey {
	parts := make([]string, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			parts[i] = "null"
			continue
		}
		parts[i] = string(b)
	}
	return strings.Join(parts, "|")
}
