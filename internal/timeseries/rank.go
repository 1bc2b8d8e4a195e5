package timeseries

import "sort"

// RankedValue pairs an identity with its orderable value. A nil value
// sorts after every defined value.
type RankedValue struct {
	ID    int64
	Value *float64
}

// DenseRanks ranks items by value descending with dense semantics: equal
// values share a rank and the next distinct value continues without a gap.
// Nil values sort last and share the single trailing rank, so every item
// receives a rank. Returns ranks keyed by ID.
func DenseRanks(items []RankedValue) map[int64]int64 {
	sorted := make([]RankedValue, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Value, sorted[j].Value
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})

	ranks := make(map[int64]int64, len(sorted))
	var rank int64
	for i, item := range sorted {
		if i == 0 || !sameValue(sorted[i-1].Value, item.Value) {
			rank++
		}
		ranks[item.ID] = rank
	}
	return ranks
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// TopNByValue returns up to n items with defined values, ordered by value
// descending with ties broken by ID ascending (row-number semantics, no
// shared positions). Items with nil values never qualify.
func TopNByValue(items []RankedValue, n int) []RankedValue {
	eligible := make([]RankedValue, 0, len(items))
	for _, item := range items {
		if item.Value != nil {
			eligible = append(eligible, item)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if *eligible[i].Value != *eligible[j].Value {
			return *eligible[i].Value > *eligible[j].Value
		}
		return eligible[i].ID < eligible[j].ID
	})

	if n > 0 && len(eligible) > n {
		eligible = eligible[:n]
	}
	return eligible
}
