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

package modeling

import (
	"math"
	"sort"
)

// LinearSumAssignment solves the rectangular assignment problem for cost and returns the
// matched row and column indices sorted by row. Every row is matched when there are no
// more rows than columns, and every column otherwise.
func LinearSumAssignment(cost [][]float64) ([]int, []int) {
	if len(cost) == 0 || len(cost[0]) == 0 {
		return nil, nil
	}

	transposed := len(cost) > len(cost[0])
	if transposed {
		cost = transpose(cost)
	}

	n, m := len(cost), len(cost[0])
	u := make([]float64, n+1)
	v := make([]float64, m+1)
	p := make([]int, m+1)
	way := make([]int, m+1)
	minv := make([]float64, m+1)
	used := make([]bool, m+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = math.Inf(1)
			used[j] = false
		}

		for {
			used[j0] = true
			i0, delta, j1 := p[j0], math.Inf(1), 0
			for j := 1; j <= m; j++ {
				if used[j] {
					continue
				}

				if cur := cost[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}

				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			for j := 0; j <= m; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	pairs := make([][2]int, 0, n)
	for j := 1; j <= m; j++ {
		if p[j] == 0 {
			continue
		}

		if transposed {
			pairs = append(pairs, [2]int{j - 1, p[j] - 1})
		} else {
			pairs = append(pairs, [2]int{p[j] - 1, j - 1})
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a][0] < pairs[b][0] })

	rows, cols := make([]int, len(pairs)), make([]int, len(pairs))
	for k, pr := range pairs {
		rows[k], cols[k] = pr[0], pr[1]
	}

	return rows, cols
}

func transpose(a [][]float64) [][]float64 {
	out := make([][]float64, len(a[0]))
	for j := range out {
		out[j] = make([]float64, len(a))
		for i := range a {
			out[j][i] = a[i][j]
		}
	}

	return out
}

// HungarianMatcher assigns ground truth objects to queries by minimal matching cost.
type HungarianMatcher struct {
	CostClass float64
	CostBBox  float64
	CostGIoU  float64
}

// match is one query paired with one target.
type match struct {
	query  int
	target int
}

// Match pairs the queries of one image with its targets. probs holds the class
// distribution of every query, boxes and targetBoxes are normalized cxcywh.
func (m HungarianMatcher) Match(probs [][]float64, boxes [][4]float64, targetClasses []int, targetBoxes [][4]float64) []match {
	if len(targetClasses) == 0 || len(probs) == 0 {
		return nil
	}

	cost := make([][]float64, len(probs))
	for q := range probs {
		cost[q] = make([]float64, len(targetClasses))
		predXYXY := CxcywhToXYXY(boxes[q])
		for t, cls := range targetClasses {
			var l1 float64
			for k := 0; k < 4; k++ {
				l1 += math.Abs(boxes[q][k] - targetBoxes[t][k])
			}

			giou := GeneralizedIoU(predXYXY, CxcywhToXYXY(targetBoxes[t]))
			cost[q][t] = -m.CostClass*probs[q][cls] + m.CostBBox*l1 - m.CostGIoU*giou
		}
	}

	rows, cols := LinearSumAssignment(cost)
	out := make([]match, len(rows))
	for i := range rows {
		out[i] = match{query: rows[i], target: cols[i]}
	}

	return out
}
