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
	"fmt"

	"github.com/born-ml/born/tensor"

	"github.com/uavdetect/detrtrain/pkg/data"
)

// charbonnierEps smooths the box regression loss around zero.
const charbonnierEps = 1e-6

// setCriterion computes the DETR losses: each decoder output is matched to the targets
// and scored with a weighted classification loss and a box regression loss. The GIoU of
// matched boxes is reported but not differentiated.
type setCriterion struct {
	numClasses     int
	noObjectWeight float64
	l1Weight       float64
	queries        int
	matcher        HungarianMatcher
}

func newSetCriterion(cfg DetrConfig) *setCriterion {
	return &setCriterion{
		numClasses:     cfg.NumClasses,
		noObjectWeight: cfg.NoObjectWeight,
		l1Weight:       cfg.L1Weight,
		queries:        cfg.NumObjectQueries,
		matcher:        HungarianMatcher{CostClass: 1, CostBBox: cfg.L1Weight, CostGIoU: cfg.GIoUWeight},
	}
}

// target is one image's ground truth in normalized cxcywh.
type target struct {
	classes []int
	boxes   [][4]float64
}

func newTargets(batch []data.Sample) ([]target, int) {
	targets := make([]target, len(batch))
	total := 0
	for i, s := range batch {
		w, h := float64(s.Width), float64(s.Height)
		for _, inst := range s.Instances {
			b := inst.Box
			targets[i].classes = append(targets[i].classes, inst.Class)
			targets[i].boxes = append(targets[i].boxes, XYXYToCxcywh([4]float64{b[0] / w, b[1] / h, b[2] / w, b[3] / h}))
		}
		total += len(s.Instances)
	}

	return targets, total
}

// losses returns the weighted sum over all outputs. The last output is the final
// decoder layer; earlier ones are auxiliary and get a layer suffix.
func (c *setCriterion) losses(outs []headOutput, batch []data.Sample, b Backend) (*Tensor, map[string]float64, error) {
	targets, numBoxes := newTargets(batch)
	for _, t := range targets {
		for _, cls := range t.classes {
			if cls < 0 || cls >= c.numClasses {
				return nil, nil, fmt.Errorf("target class %d out of range [0, %d)", cls, c.numClasses)
			}
		}
	}
	norm := float64(max(numBoxes, 1))

	var total *Tensor
	dict := make(map[string]float64, 3*len(outs))
	for i, out := range outs {
		suffix := ""
		if i < len(outs)-1 {
			suffix = fmt.Sprintf("_%d", i)
		}

		ce, bbox, giou := c.single(out, targets, norm, b)
		dict["loss_ce"+suffix] = float64(ce.Data()[0])
		dict["loss_giou"+suffix] = giou

		loss := ce
		if bbox != nil {
			dict["loss_bbox"+suffix] = float64(bbox.Data()[0])
			loss = loss.Add(bbox.Mul(scalar(float32(c.l1Weight), b)))
		} else {
			dict["loss_bbox"+suffix] = 0
		}

		if total == nil {
			total = loss
		} else {
			total = total.Add(loss)
		}
	}

	return total, dict, nil
}

// single scores one decoder output. bbox is nil when the batch has no targets.
func (c *setCriterion) single(out headOutput, targets []target, norm float64, b Backend) (*Tensor, *Tensor, float64) {
	width := c.numClasses + 1
	probs := softmaxRows(out.logits.Data(), width)
	predData := out.boxes.Data()
	rows := len(probs)

	predBoxes := make([][4]float64, rows)
	for r := range predBoxes {
		for k := 0; k < 4; k++ {
			predBoxes[r][k] = float64(predData[r*4+k])
		}
	}

	classWeight := make([]float32, rows*width)
	var weightSum float64
	for r := 0; r < rows; r++ {
		classWeight[r*width+c.numClasses] = float32(c.noObjectWeight)
	}

	var (
		selection  []float32
		targetData []float32
		giouLoss   float64
		matched    int
	)
	for i, t := range targets {
		lo, hi := i*c.queries, (i+1)*c.queries
		for _, m := range c.matcher.Match(probs[lo:hi], predBoxes[lo:hi], t.classes, t.boxes) {
			r := lo + m.query
			classWeight[r*width+c.numClasses] = 0
			classWeight[r*width+t.classes[m.target]] = 1

			sel := make([]float32, rows)
			sel[r] = 1
			selection = append(selection, sel...)
			for _, v := range t.boxes[m.target] {
				targetData = append(targetData, float32(v))
			}

			giouLoss += 1 - GeneralizedIoU(CxcywhToXYXY(predBoxes[r]), CxcywhToXYXY(t.boxes[m.target]))
			matched++
		}
	}

	for r := 0; r < rows; r++ {
		for k := 0; k < width; k++ {
			weightSum += float64(classWeight[r*width+k])
		}
	}

	logProbs := out.logits.Softmax(-1).Log()
	ce := sumAll(logProbs.Mul(constant(classWeight, tensor.Shape{rows, width}, b)), b)
	if weightSum > 0 {
		ce = ce.Mul(scalar(float32(-1/weightSum), b))
	}

	if matched == 0 {
		return ce, nil, 0
	}

	picked := constant(selection, tensor.Shape{matched, rows}, b).MatMul(out.boxes)
	diff := picked.Sub(constant(targetData, tensor.Shape{matched, 4}, b))
	eps := tensor.Full[float32](tensor.Shape{matched, 4}, charbonnierEps, b)
	bbox := sumAll(diff.Mul(diff).Add(eps).Sqrt(), b).Mul(scalar(float32(1/norm), b))

	return ce, bbox, giouLoss / norm
}
