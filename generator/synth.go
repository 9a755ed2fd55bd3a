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
	"fmt"
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

// Marker is the substitution marker in message templates.
const Marker = "*"

// Synthesizer expands message templates. Every gap after a literal part of
// the template receives a substitution, alternating between a synthetic
// identifier (even gaps) and a two-decimal value (odd gaps).
type Synthesizer struct {
	rng *rand.Rand
}

func NewSynthesizer(rng *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: rng}
}

// Synthesize returns template with its markers replaced. One identifier and
// one value are drawn per call and reused for every gap of the same kind.
func (s *Synthesizer) Synthesize(template string) string {
	if !strings.Contains(template, Marker) {
		return template
	}

	parts := strings.Split(template, Marker)
	id := s.identifier()
	value := s.value()

	var b strings.Builder
	for i, part := range parts {
		b.WriteString(part)
		if i%2 == 0 {
			b.WriteString(id)
		} else {
			b.WriteString(value)
		}
	}
	return b.String()
}

// identifier draws ID1000 through ID9999
func (s *Synthesizer) identifier() string {
	return fmt.Sprintf("ID%d", 1000+s.rng.Intn(9000))
}

// value draws from [10.00, 100.00] and always renders two decimals
func (s *Synthesizer) value() string {
	v := decimal.NewFromFloat(10 + s.rng.Float64()*90)
	return v.Round(2).StringFixed(2)
}
