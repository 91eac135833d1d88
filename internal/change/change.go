// Package change builds an exact-change breakdown from a denomination
// inventory.
//
// The algorithm is greedy, largest value first. For canonical currency
// sets (1, 2, 5, 10, ...) it always finds the answer. For non-canonical
// sets it can fail even though a valid combination exists, for example
// 6 from {4:1, 3:2}: greedy takes the 4 and is left with 2. Callers rely
// on that failure being reported as is, so there is no fallback search.
package change

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"kasirbilling/backend/internal/domain"
)

// Row is one denomination value and how many units of it are handed out.
type Row struct {
	Value int64
	Count int
}

// Calculate returns value -> count for amount using at most the available
// count of each value. The inventory map is never modified.
func Calculate(amount int64, available map[int64]int) (map[int64]int, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: negative change amount %d", domain.ErrInvalidRequest, amount)
	}
	result := make(map[int64]int)
	if amount == 0 {
		return result, nil
	}

	values := make([]int64, 0, len(available))
	for value := range available {
		if value > 0 {
			values = append(values, value)
		}
	}
	slices.Sort(values)
	slices.Reverse(values)

	remaining := amount
	for _, value := range values {
		if remaining == 0 {
			break
		}
		count := available[value]
		if count < 1 || remaining < value {
			continue
		}
		take := remaining / value
		if take > int64(count) {
			take = int64(count)
		}
		result[value] = int(take)
		remaining -= value * take
	}

	if remaining > 0 {
		return nil, &domain.InsufficientDenominationError{Remaining: decimal.NewFromInt(remaining)}
	}
	return result, nil
}

// Sorted flattens a breakdown into rows ordered by value, largest first.
// Zero counts are dropped.
func Sorted(breakdown map[int64]int) []Row {
	rows := make([]Row, 0, len(breakdown))
	for value, count := range breakdown {
		if count < 1 {
			continue
		}
		rows = append(rows, Row{Value: value, Count: count})
	}
	slices.SortFunc(rows, func(a, b Row) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		default:
			return 0
		}
	})
	return rows
}

// Total is the amount a breakdown pays out.
func Total(breakdown map[int64]int) int64 {
	var total int64
	for value, count := range breakdown {
		total += value * int64(count)
	}
	return total
}
