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

package evaluation

import (
	"math"
	"sort"
)

// Areas are in square pixels, split at 32^2 and 96^2.
var areaRanges = [][2]float64{{0, 1e10}, {0, 32 * 32}, {32 * 32, 96 * 96}, {96 * 96, 1e10}}

const (
	areaAll = iota
	areaSmall
	areaMedium
	areaLarge
)

// precisionEps is the float64 machine epsilon.
const precisionEps = 2.220446049250313e-16

type evalParams struct {
	iouThrs []float64
	recThrs []float64
	maxDets []int
}

func defaultParams() evalParams {
	p := evalParams{maxDets: []int{1, 10, 100}}
	for i := 0; i < 10; i++ {
		p.iouThrs = append(p.iouThrs, 0.5+0.05*float64(i))
	}
	for i := 0; i <= 100; i++ {
		p.recThrs = append(p.recThrs, float64(i)/100)
	}

	return p
}

// groundTruth and detection boxes are XYWH in pixels.
type groundTruth struct {
	box   [4]float64
	area  float64
	crowd bool
}

type detection struct {
	box   [4]float64
	area  float64
	score float64
}

type evalKey struct {
	image    int64
	category int
}

// imageEval is the matching of one image and category at every IoU threshold.
type imageEval struct {
	scores  []float64
	matched [][]bool
	ignored [][]bool
	numGT   int
}

// bboxIoU treats a crowd ground truth as covering the detection: the overlap is divided by
// the detection area only.
func bboxIoU(d, g [4]float64, crowd bool) float64 {
	w := math.Min(d[0]+d[2], g[0]+g[2]) - math.Max(d[0], g[0])
	h := math.Min(d[1]+d[3], g[1]+g[3]) - math.Max(d[1], g[1])
	if w <= 0 || h <= 0 {
		return 0
	}

	inter := w * h
	union := d[2]*d[3] + g[2]*g[3] - inter
	if crowd {
		union = d[2] * d[3]
	}
	if union <= 0 {
		return 0
	}

	return inter / union
}

func evaluateImage(gts []groundTruth, dts []detection, area [2]float64, maxDet int, thrs []float64) *imageEval {
	if len(gts) == 0 && len(dts) == 0 {
		return nil
	}

	type gtItem struct {
		groundTruth
		ignore bool
	}

	items := make([]gtItem, len(gts))
	for i, g := range gts {
		items[i] = gtItem{groundTruth: g, ignore: g.crowd || g.area < area[0] || g.area > area[1]}
	}
	sort.SliceStable(items, func(i, j int) bool { return !items[i].ignore && items[j].ignore })

	d := append([]detection(nil), dts...)
	sort.SliceStable(d, func(i, j int) bool { return d[i].score > d[j].score })
	if len(d) > maxDet {
		d = d[:maxDet]
	}

	ious := make([][]float64, len(d))
	for di := range d {
		ious[di] = make([]float64, len(items))
		for gi := range items {
			ious[di][gi] = bboxIoU(d[di].box, items[gi].box, items[gi].crowd)
		}
	}

	e := &imageEval{
		scores:  make([]float64, len(d)),
		matched: make([][]bool, len(thrs)),
		ignored: make([][]bool, len(thrs)),
	}
	for di := range d {
		e.scores[di] = d[di].score
	}
	for _, g := range items {
		if !g.ignore {
			e.numGT++
		}
	}

	for ti, t := range thrs {
		gtMatched := make([]bool, len(items))
		e.matched[ti] = make([]bool, len(d))
		e.ignored[ti] = make([]bool, len(d))
		for di := range d {
			best, m := math.Min(t, 1-1e-10), -1
			for gi := range items {
				// A crowd region can absorb any number of detections.
				if gtMatched[gi] && !items[gi].crowd {
					continue
				}
				// Ground truths are ordered with ignored ones last.
				if m > -1 && !items[m].ignore && items[gi].ignore {
					break
				}
				if ious[di][gi] < best {
					continue
				}
				best, m = ious[di][gi], gi
			}

			if m == -1 {
				if d[di].area < area[0] || d[di].area > area[1] {
					e.ignored[ti][di] = true
				}
				continue
			}

			e.ignored[ti][di] = items[m].ignore
			e.matched[ti][di] = true
			gtMatched[m] = true
		}
	}

	return e
}

// cocoEval computes bbox precision following the COCO protocol.
type cocoEval struct {
	params     evalParams
	imageIDs   []int64
	categories []int
	gts        map[evalKey][]groundTruth
	dts        map[evalKey][]detection

	// precision is indexed [iou][recall][category][area][maxDet]; -1 marks no ground truth.
	precision [][][][][]float64
}

func (c *cocoEval) evaluate() {
	p := c.params
	maxDet := p.maxDets[len(p.maxDets)-1]

	evals := make([][][]*imageEval, len(c.categories))
	for k, cat := range c.categories {
		evals[k] = make([][]*imageEval, len(areaRanges))
		for a, area := range areaRanges {
			evals[k][a] = make([]*imageEval, len(c.imageIDs))
			for i, img := range c.imageIDs {
				key := evalKey{image: img, category: cat}
				evals[k][a][i] = evaluateImage(c.gts[key], c.dts[key], area, maxDet, p.iouThrs)
			}
		}
	}

	c.precision = make([][][][][]float64, len(p.iouThrs))
	for t := range c.precision {
		c.precision[t] = make([][][][]float64, len(p.recThrs))
		for r := range c.precision[t] {
			c.precision[t][r] = make([][][]float64, len(c.categories))
			for k := range c.precision[t][r] {
				c.precision[t][r][k] = make([][]float64, len(areaRanges))
				for a := range c.precision[t][r][k] {
					c.precision[t][r][k][a] = make([]float64, len(p.maxDets))
					for m := range c.precision[t][r][k][a] {
						c.precision[t][r][k][a][m] = -1
					}
				}
			}
		}
	}

	for k := range c.categories {
		for a := range areaRanges {
			for m, maxDet := range p.maxDets {
				c.accumulate(evals[k][a], k, a, m, maxDet)
			}
		}
	}
}

func (c *cocoEval) accumulate(evals []*imageEval, k, a, m, maxDet int) {
	type entry struct {
		score   float64
		matched []bool
		ignored []bool
	}

	var (
		entries []entry
		numGT   int
	)
	for _, e := range evals {
		if e == nil {
			continue
		}

		numGT += e.numGT
		n := min(maxDet, len(e.scores))
		for di := 0; di < n; di++ {
			en := entry{score: e.scores[di], matched: make([]bool, len(e.matched)), ignored: make([]bool, len(e.ignored))}
			for t := range e.matched {
				en.matched[t] = e.matched[t][di]
				en.ignored[t] = e.ignored[t][di]
			}
			entries = append(entries, en)
		}
	}

	if numGT == 0 {
		return
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].score > entries[j].score })

	nd := len(entries)
	rc := make([]float64, nd)
	pr := make([]float64, nd)
	for t := range c.params.iouThrs {
		var tp, fp float64
		for i, en := range entries {
			if !en.ignored[t] {
				if en.matched[t] {
					tp++
				} else {
					fp++
				}
			}
			rc[i] = tp / float64(numGT)
			pr[i] = tp / (tp + fp + precisionEps)
		}

		for i := nd - 1; i > 0; i-- {
			if pr[i] > pr[i-1] {
				pr[i-1] = pr[i]
			}
		}

		for r, thr := range c.params.recThrs {
			q := 0.0
			if idx := sort.SearchFloat64s(rc, thr); idx < nd {
				q = pr[idx]
			}
			c.precision[t][r][k][a][m] = q
		}
	}
}

// summarize averages precision over recall thresholds and categories. A negative iouThr
// averages over every IoU threshold. It returns -1 when no category has ground truth.
func (c *cocoEval) summarize(iouThr float64, area, maxDet int) float64 {
	m := -1
	for i, d := range c.params.maxDets {
		if d == maxDet {
			m = i
		}
	}

	var sum float64
	var n int
	for t, thr := range c.params.iouThrs {
		if iouThr >= 0 && math.Abs(thr-iouThr) > 1e-9 {
			continue
		}
		for r := range c.params.recThrs {
			for k := range c.categories {
				if v := c.precision[t][r][k][area][m]; v > -1 {
					sum += v
					n++
				}
			}
		}
	}

	if n == 0 {
		return -1
	}

	return sum / float64(n)
}

// categoryAP is the AP of category index k over every IoU threshold, for all areas at the
// largest maxDet. It is NaN when the category has no ground truth.
func (c *cocoEval) categoryAP(k int) float64 {
	m := len(c.params.maxDets) - 1
	var sum float64
	var n int
	for t := range c.params.iouThrs {
		for r := range c.params.recThrs {
			if v := c.precision[t][r][k][areaAll][m]; v > -1 {
				sum += v
				n++
			}
		}
	}

	if n == 0 {
		return math.NaN()
	}

	return sum / float64(n)
}
