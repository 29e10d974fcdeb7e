package ml

import (
	"math"
	"math/rand"
)

// TrainTestSplit shuffles row indices with a fixed seed and holds out
// ceil(n*testRatio) of them.
func TrainTestSplit(n int, testRatio float64, seed int64) (train, test []int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	nTest := int(math.Ceil(float64(n) * testRatio))
	if n > 1 && nTest >= n {
		nTest = n - 1
	}
	rnd := rand.New(rand.NewSource(seed))
	perm := rnd.Perm(n)
	return perm[nTest:], perm[:nTest]
}

// Take selects rows by index.
func Take[T any](rows []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}
