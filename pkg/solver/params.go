/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package solver

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/tensor"

	"github.com/uavdetect/detrtrain/pkg/container/set"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

// ParamGroup is a set of parameters sharing optimizer hyperparameters.
type ParamGroup struct {
	Names       []string
	Params      []*tensor.RawTensor
	LR          float64
	WeightDecay float64

	// InitialLR is the LR the group was created with. Schedulers scale it.
	InitialLR float64
}

// BuildParamGroups creates one group per distinct trainable parameter, in order of first
// appearance. Parameters reachable under several names are grouped once, under the first
// name. Names containing "backbone" get BaseLR * BackboneMultiplier.
func BuildParamGroups[B tensor.Backend](params []modeling.NamedParameter[B], cfg Config) []*ParamGroup {
	seen := set.New[*tensor.RawTensor]()
	groups := make([]*ParamGroup, 0, len(params))
	for _, p := range params {
		if !p.Trainable() {
			continue
		}

		if !seen.Add(p.Raw()) {
			continue
		}

		lr := cfg.BaseLR
		if strings.Contains(p.Name, "backbone") {
			lr *= cfg.BackboneMultiplier
		}

		groups = append(groups, &ParamGroup{
			Names:       []string{p.Name},
			Params:      []*tensor.RawTensor{p.Raw()},
			LR:          lr,
			WeightDecay: cfg.WeightDecay,
			InitialLR:   lr,
		})
	}

	return groups
}

// paramName returns the name of the i-th parameter, falling back to its index.
func (g *ParamGroup) paramName(i int) string {
	if i < len(g.Names) {
		return g.Names[i]
	}

	return fmt.Sprintf("param %d", i)
}
