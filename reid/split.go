package reid

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// SplitValidation picks n persons at random from those not in the test protocol to hold out for validation.
// It returns the sorted validation indices.
func SplitValidation(d *Dataset, protocol []int, n int, rng *rand.Rand) ([]int, error) {
	pool := d.Complement(protocol)
	if n < 0 || n > len(pool) {
		return nil, errors.Errorf("cannot hold out %d of %d training persons", n, len(pool))
	}
	perm := rng.Perm(len(pool))
	valid := make([]int, n)
	for i := range valid {
		valid[i] = pool[perm[i]]
	}
	sort.Ints(valid)
	return valid, nil
}
