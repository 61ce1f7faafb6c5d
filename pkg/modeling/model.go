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
	"github.com/born-ml/born/nn"

	"github.com/uavdetect/detrtrain/pkg/data"
)

// Detection is one predicted object in original image pixels.
type Detection struct {
	// Box is XYXY.
	Box   [4]float64
	Score float64
	Class int
}

// Detections are the predictions for one image.
type Detections struct {
	ImageID   int64
	Height    int
	Width     int
	Instances []Detection
}

// Model is a trainable detector.
type Model interface {
	nn.Module[Backend]

	// NamedParameters walks the module tree. Shared parameters appear once per path.
	NamedParameters() []NamedParameter[Backend]

	// Losses runs the training forward pass and returns the weighted total loss together
	// with every loss term as a scalar. Record the pass on the backend tape to
	// differentiate the total.
	Losses(batch []data.Sample) (*Tensor, map[string]float64, error)

	// Inference runs the model without recording and returns detections per sample.
	Inference(batch []data.Sample) ([]Detections, error)

	SetTraining(training bool)
	Training() bool
	Backend() Backend
}

// paramList collects named parameters in module order.
type paramList []NamedParameter[Backend]

func (l *paramList) add(name string, p *nn.Parameter[Backend]) {
	if p == nil {
		return
	}

	*l = append(*l, NamedParameter[Backend]{Name: name, Param: p})
}

func (l *paramList) linear(prefix string, m *nn.Linear[Backend]) {
	l.add(prefix+".weight", m.Weight())
	l.add(prefix+".bias", m.Bias())
}

func (l *paramList) conv(prefix string, m *nn.Conv2D[Backend]) {
	params := m.Parameters()
	l.add(prefix+".weight", params[0])
	if len(params) > 1 {
		l.add(prefix+".bias", params[1])
	}
}

func (l *paramList) layerNorm(prefix string, m *nn.LayerNorm[Backend]) {
	l.add(prefix+".weight", m.Gamma)
	l.add(prefix+".bias", m.Beta)
}

func (l *paramList) attention(prefix string, m *nn.MultiHeadAttention[Backend]) {
	l.linear(prefix+".q_proj", m.WQ)
	l.linear(prefix+".k_proj", m.WK)
	l.linear(prefix+".v_proj", m.WV)
	l.linear(prefix+".out_proj", m.WO)
}

// unique drops repeated parameters, keeping the first name of each.
func (l paramList) unique() paramList {
	seen := make(map[*nn.Parameter[Backend]]struct{}, len(l))
	out := make(paramList, 0, len(l))
	for _, p := range l {
		if _, ok := seen[p.Param]; ok {
			continue
		}

		seen[p.Param] = struct{}{}
		out = append(out, p)
	}

	return out
}
