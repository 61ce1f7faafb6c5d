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
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

const (
	layerNormEps = 1e-5

	// maskedLogit is added to attention scores of padded keys.
	maskedLogit = -1e9
)

// forwardState carries what one forward pass needs besides its inputs.
type forwardState struct {
	b        Backend
	training bool
	dropout  float64
	rng      *rand.Rand
}

// drop applies inverted dropout in training mode.
func (s *forwardState) drop(x *Tensor) *Tensor {
	if !s.training || s.dropout <= 0 {
		return x
	}

	keep := float32(1 / (1 - s.dropout))
	mask := make([]float32, x.NumElements())
	for i := range mask {
		if s.rng.Float64() >= s.dropout {
			mask[i] = keep
		}
	}

	return x.Mul(constant(mask, x.Shape(), s.b))
}

// linear3D applies l to the last dimension of a [B, S, D] tensor.
func linear3D(l *nn.Linear[Backend], x *Tensor) *Tensor {
	s := x.Shape()
	return l.Forward(x.Reshape(s[0]*s[1], s[2])).Reshape(s[0], s[1], l.OutFeatures())
}

type feedForward struct {
	linear1 *nn.Linear[Backend]
	linear2 *nn.Linear[Backend]
	relu    *nn.ReLU[Backend]
}

func newFeedForward(dim, hidden int, b Backend) feedForward {
	return feedForward{
		linear1: nn.NewLinear(dim, hidden, b),
		linear2: nn.NewLinear(hidden, dim, b),
		relu:    nn.NewReLU[Backend](),
	}
}

func (f feedForward) forward(x *Tensor, st *forwardState) *Tensor {
	return linear3D(f.linear2, st.drop(f.relu.Forward(linear3D(f.linear1, x))))
}

func (f feedForward) namedParameters(prefix string, l *paramList) {
	l.linear(prefix+".linear1", f.linear1)
	l.linear(prefix+".linear2", f.linear2)
}

type encoderLayer struct {
	selfAttn *nn.MultiHeadAttention[Backend]
	ffn      feedForward
	norm1    *nn.LayerNorm[Backend]
	norm2    *nn.LayerNorm[Backend]
	preNorm  bool
}

func newEncoderLayer(cfg DetrConfig, b Backend) *encoderLayer {
	return &encoderLayer{
		selfAttn: nn.NewMultiHeadAttention(cfg.HiddenDim, cfg.NHeads, b),
		ffn:      newFeedForward(cfg.HiddenDim, cfg.DimFeedforward, b),
		norm1:    nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b),
		norm2:    nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b),
		preNorm:  cfg.PreNorm,
	}
}

func (e *encoderLayer) forward(src, pos, mask *Tensor, st *forwardState) *Tensor {
	if e.preNorm {
		src2 := e.norm1.Forward(src)
		q := src2.Add(pos)
		src = src.Add(st.drop(e.selfAttn.Forward(q, q, src2, mask)))
		return src.Add(st.drop(e.ffn.forward(e.norm2.Forward(src), st)))
	}

	q := src.Add(pos)
	src = e.norm1.Forward(src.Add(st.drop(e.selfAttn.Forward(q, q, src, mask))))
	return e.norm2.Forward(src.Add(st.drop(e.ffn.forward(src, st))))
}

func (e *encoderLayer) namedParameters(prefix string, l *paramList) {
	l.attention(prefix+".self_attn", e.selfAttn)
	e.ffn.namedParameters(prefix, l)
	l.layerNorm(prefix+".norm1", e.norm1)
	l.layerNorm(prefix+".norm2", e.norm2)
}

type decoderLayer struct {
	selfAttn  *nn.MultiHeadAttention[Backend]
	crossAttn *nn.MultiHeadAttention[Backend]
	ffn       feedForward
	norm1     *nn.LayerNorm[Backend]
	norm2     *nn.LayerNorm[Backend]
	norm3     *nn.LayerNorm[Backend]
	preNorm   bool
}

func newDecoderLayer(cfg DetrConfig, b Backend) *decoderLayer {
	return &decoderLayer{
		selfAttn:  nn.NewMultiHeadAttention(cfg.HiddenDim, cfg.NHeads, b),
		crossAttn: nn.NewMultiHeadAttention(cfg.HiddenDim, cfg.NHeads, b),
		ffn:       newFeedForward(cfg.HiddenDim, cfg.DimFeedforward, b),
		norm1:     nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b),
		norm2:     nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b),
		norm3:     nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b),
		preNorm:   cfg.PreNorm,
	}
}

func (d *decoderLayer) forward(tgt, memory, pos, queryPos, mask *Tensor, st *forwardState) *Tensor {
	key := memory.Add(pos)
	if d.preNorm {
		tgt2 := d.norm1.Forward(tgt)
		q := tgt2.Add(queryPos)
		tgt = tgt.Add(st.drop(d.selfAttn.Forward(q, q, tgt2, nil)))
		tgt2 = d.norm2.Forward(tgt)
		tgt = tgt.Add(st.drop(d.crossAttn.Forward(tgt2.Add(queryPos), key, memory, mask)))
		return tgt.Add(st.drop(d.ffn.forward(d.norm3.Forward(tgt), st)))
	}

	q := tgt.Add(queryPos)
	tgt = d.norm1.Forward(tgt.Add(st.drop(d.selfAttn.Forward(q, q, tgt, nil))))
	tgt = d.norm2.Forward(tgt.Add(st.drop(d.crossAttn.Forward(tgt.Add(queryPos), key, memory, mask))))
	return d.norm3.Forward(tgt.Add(st.drop(d.ffn.forward(tgt, st))))
}

func (d *decoderLayer) namedParameters(prefix string, l *paramList) {
	l.attention(prefix+".self_attn", d.selfAttn)
	l.attention(prefix+".multihead_attn", d.crossAttn)
	d.ffn.namedParameters(prefix, l)
	l.layerNorm(prefix+".norm1", d.norm1)
	l.layerNorm(prefix+".norm2", d.norm2)
	l.layerNorm(prefix+".norm3", d.norm3)
}

// transformer is the DETR encoder-decoder. With pre-norm the encoder output is
// normalized as well; the decoder output always is.
type transformer struct {
	encoder            []*encoderLayer
	encoderNorm        *nn.LayerNorm[Backend]
	decoder            []*decoderLayer
	decoderNorm        *nn.LayerNorm[Backend]
	returnIntermediate bool
	dim                int
	heads              int
}

func newTransformer(cfg DetrConfig, b Backend) *transformer {
	t := &transformer{
		decoderNorm:        nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b),
		returnIntermediate: cfg.DeepSupervision,
		dim:                cfg.HiddenDim,
		heads:              cfg.NHeads,
	}

	for i := 0; i < cfg.EncLayers; i++ {
		t.encoder = append(t.encoder, newEncoderLayer(cfg, b))
	}

	if cfg.PreNorm && cfg.EncLayers > 0 {
		t.encoderNorm = nn.NewLayerNorm(cfg.HiddenDim, layerNormEps, b)
	}

	for i := 0; i < cfg.DecLayers; i++ {
		t.decoder = append(t.decoder, newDecoderLayer(cfg, b))
	}

	return t
}

// forward maps src and pos of [B, S, D] and queryEmbed of [Q, D] to the decoder outputs
// of [B, Q, D]. Only the last layer is returned unless intermediate outputs are enabled.
func (t *transformer) forward(src, pos, queryEmbed *Tensor, keep [][]bool, st *forwardState) []*Tensor {
	batch := src.Shape()[0]
	queries := queryEmbed.Shape()[0]

	selfMask := paddingMask(keep, t.heads, src.Shape()[1], st.b)
	crossMask := paddingMask(keep, t.heads, queries, st.b)

	memory := src
	for _, layer := range t.encoder {
		memory = layer.forward(memory, pos, selfMask, st)
	}

	if t.encoderNorm != nil {
		memory = t.encoderNorm.Forward(memory)
	}

	zeros := tensor.Zeros[float32](tensor.Shape{batch, queries, t.dim}, st.b)
	queryPos := zeros.Add(queryEmbed.Reshape(1, queries, t.dim))
	tgt := zeros

	var outputs []*Tensor
	for _, layer := range t.decoder {
		tgt = layer.forward(tgt, memory, pos, queryPos, crossMask, st)
		if t.returnIntermediate {
			outputs = append(outputs, t.decoderNorm.Forward(tgt))
		}
	}

	if !t.returnIntermediate {
		outputs = append(outputs, t.decoderNorm.Forward(tgt))
	}

	return outputs
}

func (t *transformer) namedParameters(l *paramList) {
	for i, layer := range t.encoder {
		layer.namedParameters(fmt.Sprintf("transformer.encoder.layers.%d", i), l)
	}

	if t.encoderNorm != nil {
		l.layerNorm("transformer.encoder.norm", t.encoderNorm)
	}

	for i, layer := range t.decoder {
		layer.namedParameters(fmt.Sprintf("transformer.decoder.layers.%d", i), l)
	}

	l.layerNorm("transformer.decoder.norm", t.decoderNorm)
}

// paddingMask builds an additive [B, heads, q, k] mask hiding the keys of every image
// whose keep flag is false. It returns nil when nothing is padded.
func paddingMask(keep [][]bool, heads, q int, b Backend) *Tensor {
	padded := false
	for _, row := range keep {
		for _, ok := range row {
			if !ok {
				padded = true
				break
			}
		}
	}

	if !padded {
		return nil
	}

	batch, k := len(keep), len(keep[0])
	data := make([]float32, batch*heads*q*k)
	for bi, row := range keep {
		for h := 0; h < heads; h++ {
			for i := 0; i < q; i++ {
				base := ((bi*heads+h)*q + i) * k
				for j, ok := range row {
					if !ok {
						data[base+j] = maskedLogit
					}
				}
			}
		}
	}

	return constant(data, tensor.Shape{batch, heads, q, k}, b)
}
