package graph

import (
	"math/rand/v2"
)

// randKOfN fills values with len(values) distinct random offsets in [0, n), which must not
// exceed n
func randKOfN(rng *rand.Rand, values []int64, n int64) {
	k := int64(len(values))
	if k*k < n {
		randKOfNLinear(rng, values, n)
	} else {
		randKOfNReservoir(rng, values, n)
	}
}

// randKOfNLinear is O(k^2), and the fastest choice when k is small compared to n
func randKOfNLinear(rng *rand.Rand, values []int64, n int64) {
	for i := range values {
		var x int64
	takeANumber:
		for {
			x = rng.Int64N(n)
			for j := range i {
				if values[j] == x {
					continue takeANumber
				}
			}
			break
		}
		values[i] = x
	}
}

func randKOfNReservoir(rng *rand.Rand, values []int64, n int64) {
	k := int64(len(values))
	for i := range k {
		values[i] = i
	}
	for i := k; i < n; i++ {
		if pos := rng.Int64N(i + 1); pos < k {
			values[pos] = i
		}
	}
}
