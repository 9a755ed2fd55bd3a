/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package generator

import (
	"errors"
	"math/rand"
)

// ErrNoWeight is returned when no item carries a positive weight.
var ErrNoWeight = errors.New("no item has a positive weight")

// WeightedChoice picks one of items with probability proportional to its
// weight. Weights may be fractional; items with weight 0 are never picked.
func WeightedChoice[T any](rng *rand.Rand, items []T, weights []float64) (T, error) {
	var zero T
	if len(items) != len(weights) {
		return zero, errors.New("items and weights differ in length")
	}

	totalWeight := 0.0
	for _, w := range weights {
		if w > 0 {
			totalWeight += w
		}
	}
	if totalWeight == 0 {
		return zero, ErrNoWeight
	}

	randVal := rng.Float64() * totalWeight
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if randVal < w {
			return items[i], nil
		}
		randVal -= w
		last = i
	}

	// Rounding can leave randVal just past the final positive weight
	return items[last], nil
}
