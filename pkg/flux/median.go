package flux

import (
	"sort"

	"github.com/holiman/uint256"
)

// Median returns the median of the positive samples. For an even count it is the floor of
// the mean of the two middle samples.
func Median(samples []uint256.Int) (uint256.Int, error) {
	values := make([]uint256.Int, 0, len(samples))
	for _, s := range samples {
		// zero entries never count toward the median
		if s.IsZero() {
			continue
		}
		values = append(values, s)
	}

	var result uint256.Int
	n := len(values)
	if n == 0 {
		return result, ErrInsufficientSamples
	}

	sort.Slice(values, func(i, j int) bool {
		return values[i].Lt(&values[j])
	})

	if n%2 == 1 {
		return values[n/2], nil
	}

	// (a+b)/2 computed as a/2 + b/2 + (a%2 + b%2)/2 so the sum never overflows
	a, b := &values[n/2-1], &values[n/2]
	var halfA, halfB, carry uint256.Int
	halfA.Rsh(a, 1)
	halfB.Rsh(b, 1)
	carry.SetUint64((a.Uint64()&1 + b.Uint64()&1) / 2)
	result.Add(&halfA, &halfB)
	result.Add(&result, &carry)
	return result, nil
}
