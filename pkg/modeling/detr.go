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
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/uavdetect/detrtrain/pkg/data"
)

// ErrMaskUnsupported is returned for configurations that request a mask head.
var ErrMaskUnsupported = errors.New("mask head is not supported")

// mlp is a stack of linear layers with ReLU between them.
type mlp struct {
	layers []*nn.Linear[Backend]
	relu   *nn.ReLU[Backend]
}

func newMLP(in, hidden, out, n int, b Backend) *mlp {
	m := &mlp{relu: nn.NewReLU[Backend]()}
	for i := 0; i < n; i++ {
		from, to := hidden, hidden
		if i == 0 {
			from = in
		}
		if i == n-1 {
			to = out
		}
		m.layers = append(m.layers, nn.NewLinear(from, to, b))
	}

	return m
}

func (m *mlp) forward(x *Tensor) *Tensor {
	for i, l := range m.layers {
		x = l.Forward(x)
		if i < len(m.layers)-1 {
			x = m.relu.Forward(x)
		}
	}

	return x
}

func (m *mlp) namedParameters(prefix string, l *paramList) {
	for i, layer := range m.layers {
		l.linear(fmt.Sprintf("%s.layers.%d", prefix, i), layer)
	}
}

// headOutput holds the predictions of one decoder layer, flattened to [B*Q, ...].
type headOutput struct {
	logits *Tensor
	boxes  *Tensor
}

var _ Model = (*Detr)(nil)

// Detr is the DETR detector: a convolution backbone, a transformer encoder-decoder and
// class and box heads applied to every object query.
type Detr struct {
	cfg         Config
	b           Backend
	backbone    *backbone
	inputProj   *nn.Conv2D[Backend]
	transformer *transformer
	queryEmbed  *nn.Parameter[Backend]
	classEmbed  *nn.Linear[Backend]
	bboxEmbed   *mlp
	sigmoid     *nn.Sigmoid[Backend]
	criterion   *setCriterion

	mu       sync.Mutex
	training bool
	rng      *rand.Rand
}

func NewDetr(cfg Config, b Backend) (*Detr, error) {
	dc := cfg.Detr
	switch {
	case cfg.MaskOn:
		return nil, ErrMaskUnsupported
	case dc.NumClasses <= 0:
		return nil, fmt.Errorf("invalid number of classes %d", dc.NumClasses)
	case dc.HiddenDim <= 0 || dc.NHeads <= 0 || dc.HiddenDim%dc.NHeads != 0:
		return nil, fmt.Errorf("hidden dim %d is not divisible by %d heads", dc.HiddenDim, dc.NHeads)
	case dc.HiddenDim%2 != 0:
		return nil, fmt.Errorf("hidden dim %d must be even for the position encoding", dc.HiddenDim)
	case dc.DecLayers <= 0 || dc.NumObjectQueries <= 0:
		return nil, errors.New("at least one decoder layer and one object query are required")
	case len(cfg.Backbone.Channels) == 0:
		return nil, errors.New("backbone requires at least one stage")
	case len(cfg.PixelMean) != 3 || len(cfg.PixelStd) != 3:
		return nil, errors.New("pixel mean and std require three channels")
	}

	bb := newBackbone(cfg.Backbone, b)
	d := &Detr{
		cfg:         cfg,
		b:           b,
		backbone:    bb,
		inputProj:   nn.NewConv2D(bb.outChannels(), dc.HiddenDim, 1, 1, 1, 0, true, b),
		transformer: newTransformer(dc, b),
		queryEmbed:  nn.NewParameter("weight", nn.Randn(tensor.Shape{dc.NumObjectQueries, dc.HiddenDim}, b)),
		classEmbed:  nn.NewLinear(dc.HiddenDim, dc.NumClasses+1, b),
		bboxEmbed:   newMLP(dc.HiddenDim, dc.HiddenDim, 4, 3, b),
		sigmoid:     nn.NewSigmoid[Backend](),
		criterion:   newSetCriterion(dc),
		training:    true,
		rng:         rand.New(rand.NewSource(rand.Int63())),
	}

	bb.trainable()
	for _, p := range d.NamedParameters() {
		if !isBackboneParam(p.Name) {
			p.Param.Tensor().RequireGrad()
		}
	}

	return d, nil
}

func isBackboneParam(name string) bool {
	return strings.HasPrefix(name, "backbone.")
}

// SetSeed reseeds the dropout generator.
func (d *Detr) SetSeed(seed int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rng = rand.New(rand.NewSource(seed))
}

func (d *Detr) SetTraining(training bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.training = training
}

func (d *Detr) Training() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.training
}

func (d *Detr) Backend() Backend {
	return d.b
}

func (d *Detr) Config() Config {
	return d.cfg
}

// NamedParameters lists every parameter by path. With deep supervision the decoder keeps
// references to the prediction heads, so their parameters are listed a second time.
func (d *Detr) NamedParameters() []NamedParameter[Backend] {
	var l paramList
	d.backbone.namedParameters(&l)
	l.conv("input_proj", d.inputProj)
	d.transformer.namedParameters(&l)
	l.add("query_embed.weight", d.queryEmbed)
	l.linear("class_embed", d.classEmbed)
	d.bboxEmbed.namedParameters("bbox_embed", &l)

	if d.cfg.Detr.DeepSupervision {
		l.linear("transformer.decoder.class_embed", d.classEmbed)
		d.bboxEmbed.namedParameters("transformer.decoder.bbox_embed", &l)
	}

	return l
}

func (d *Detr) Parameters() []*nn.Parameter[Backend] {
	named := paramList(d.NamedParameters()).unique()
	params := make([]*nn.Parameter[Backend], len(named))
	for i, p := range named {
		params[i] = p.Param
	}

	return params
}

// StateDict maps the first path of every parameter to its tensor.
func (d *Detr) StateDict() map[string]*tensor.RawTensor {
	named := paramList(d.NamedParameters()).unique()
	sd := make(map[string]*tensor.RawTensor, len(named))
	for _, p := range named {
		sd[p.Name] = p.Raw()
	}

	return sd
}

// LoadStateDict copies matching tensors into the model. Every parameter must be present
// with the same shape.
func (d *Detr) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	for _, p := range paramList(d.NamedParameters()).unique() {
		src, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %s", p.Name)
		}

		dst := p.Raw()
		if !dst.Shape().Equal(src.Shape()) {
			return fmt.Errorf("parameter %s has shape %v, checkpoint has %v", p.Name, dst.Shape(), src.Shape())
		}

		copy(dst.AsFloat32(), src.AsFloat32())
	}

	return nil
}

// Forward maps normalized images of [B, 3, H, W] to class logits of [B, Q, C+1].
func (d *Detr) Forward(images *Tensor) *Tensor {
	s := images.Shape()
	valid := make([][2]int, s[0])
	for i := range valid {
		valid[i] = [2]int{s[2], s[3]}
	}

	outs := d.forward(images, valid)
	q := d.cfg.Detr.NumObjectQueries
	return outs[len(outs)-1].logits.Reshape(s[0], q, d.cfg.Detr.NumClasses+1)
}

// preprocess normalizes and pads batch into [B, 3, H, W]. It returns the unpadded size
// of every image.
func (d *Detr) preprocess(batch []data.Sample) (*Tensor, [][2]int, error) {
	var h, w int
	for _, s := range batch {
		if len(s.Image) != 3*s.Height*s.Width {
			return nil, nil, fmt.Errorf("image %d has %d values for %dx%d", s.ImageID, len(s.Image), s.Height, s.Width)
		}
		h, w = max(h, s.Height), max(w, s.Width)
	}

	stride := d.backbone.stride()
	if h < stride || w < stride {
		return nil, nil, fmt.Errorf("images of %dx%d are smaller than the backbone stride %d", h, w, stride)
	}

	plane := h * w
	buf := make([]float32, len(batch)*3*plane)
	valid := make([][2]int, len(batch))
	for i, s := range batch {
		valid[i] = [2]int{s.Height, s.Width}
		for c := 0; c < 3; c++ {
			mean, std := float32(d.cfg.PixelMean[c]), float32(d.cfg.PixelStd[c])
			src := s.Image[c*s.Height*s.Width:]
			dst := buf[(i*3+c)*plane:]
			for y := 0; y < s.Height; y++ {
				for x := 0; x < s.Width; x++ {
					dst[y*w+x] = (src[y*s.Width+x] - mean) / std
				}
			}
		}
	}

	return constant(buf, tensor.Shape{len(batch), 3, h, w}, d.b), valid, nil
}

func (d *Detr) forward(images *Tensor, valid [][2]int) []headOutput {
	d.mu.Lock()
	st := &forwardState{b: d.b, training: d.training, dropout: d.cfg.Detr.Dropout, rng: d.rng}
	d.mu.Unlock()

	dim := d.cfg.Detr.HiddenDim
	feat := d.inputProj.Forward(d.backbone.forward(images))
	fs := feat.Shape()
	batch, fh, fw := fs[0], fs[2], fs[3]
	src := feat.Reshape(batch, dim, fh*fw).Transpose(0, 2, 1)

	stride := d.backbone.stride()
	featValid := make([][2]int, batch)
	keep := make([][]bool, batch)
	for i, v := range valid {
		vh, vw := min(ceilDiv(v[0], stride), fh), min(ceilDiv(v[1], stride), fw)
		featValid[i] = [2]int{vh, vw}
		keep[i] = make([]bool, fh*fw)
		for y := 0; y < vh; y++ {
			for x := 0; x < vw; x++ {
				keep[i][y*fw+x] = true
			}
		}
	}

	pos := constant(sinePositionEmbedding(featValid, fh, fw, dim), tensor.Shape{batch, fh * fw, dim}, d.b)
	hs := d.transformer.forward(src, pos, d.queryEmbed.Tensor(), keep, st)

	q := d.cfg.Detr.NumObjectQueries
	outs := make([]headOutput, len(hs))
	for i, h := range hs {
		flat := h.Reshape(batch*q, dim)
		outs[i] = headOutput{
			logits: d.classEmbed.Forward(flat),
			boxes:  d.sigmoid.Forward(d.bboxEmbed.forward(flat)),
		}
	}

	return outs
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Losses runs the forward pass and the set criterion. Callers record the pass on the
// backend tape to differentiate the returned total.
func (d *Detr) Losses(batch []data.Sample) (*Tensor, map[string]float64, error) {
	if len(batch) == 0 {
		return nil, nil, errors.New("empty batch")
	}

	images, valid, err := d.preprocess(batch)
	if err != nil {
		return nil, nil, err
	}

	return d.criterion.losses(d.forward(images, valid), batch, d.b)
}

// Inference returns for every query its best real class, scored by the class
// probability, with boxes in the original image size.
func (d *Detr) Inference(batch []data.Sample) ([]Detections, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	images, valid, err := d.preprocess(batch)
	if err != nil {
		return nil, err
	}

	outs := d.forward(images, valid)
	final := outs[len(outs)-1]
	numClasses := d.cfg.Detr.NumClasses
	probs := softmaxRows(final.logits.Data(), numClasses+1)
	boxes := final.boxes.Data()
	q := d.cfg.Detr.NumObjectQueries

	results := make([]Detections, len(batch))
	for i, s := range batch {
		det := Detections{ImageID: s.ImageID, Height: s.OrigHeight, Width: s.OrigWidth}
		scale := [4]float64{float64(s.OrigWidth), float64(s.OrigHeight), float64(s.OrigWidth), float64(s.OrigHeight)}
		for j := 0; j < q; j++ {
			row := i*q + j
			best, score := 0, math.Inf(-1)
			for c := 0; c < numClasses; c++ {
				if p := probs[row][c]; p > score {
					best, score = c, p
				}
			}

			cx := [4]float64{}
			for k := range cx {
				cx[k] = float64(boxes[row*4+k])
			}
			box := CxcywhToXYXY(cx)
			for k := range box {
				box[k] *= scale[k]
			}

			det.Instances = append(det.Instances, Detection{Box: box, Score: score, Class: best})
		}
		results[i] = det
	}

	return results, nil
}

// softmaxRows splits flat logits into rows of n and normalizes each row.
func softmaxRows(logits []float32, n int) [][]float64 {
	rows := make([][]float64, len(logits)/n)
	for r := range rows {
		row := logits[r*n : (r+1)*n]
		maxv := math.Inf(-1)
		for _, v := range row {
			maxv = math.Max(maxv, float64(v))
		}

		out := make([]float64, n)
		var sum float64
		for i, v := range row {
			out[i] = math.Exp(float64(v) - maxv)
			sum += out[i]
		}
		for i := range out {
			out[i] /= sum
		}
		rows[r] = out
	}

	return rows
}
