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

import "math"

const (
	positionTemperature = 10000.0
	positionEps         = 1e-6
)

// sinePositionEmbedding computes the normalized 2D sine encoding for a batch of feature
// maps of h by w. valid holds the unpadded feature size of every image. The result is
// [len(valid), h*w, dim] in row-major token order, with the y encoding in the first half
// of the channels.
func sinePositionEmbedding(valid [][2]int, h, w, dim int) []float32 {
	half := dim / 2
	freq := make([]float64, half)
	for i := range freq {
		freq[i] = math.Pow(positionTemperature, float64(2*(i/2))/float64(half))
	}

	out := make([]float32, len(valid)*h*w*dim)
	for b, v := range valid {
		vh, vw := max(v[0], 1), max(v[1], 1)
		for y := 0; y < h; y++ {
			ye := float64(min(y+1, vh)) / (float64(vh) + positionEps) * 2 * math.Pi
			for x := 0; x < w; x++ {
				xe := float64(min(x+1, vw)) / (float64(vw) + positionEps) * 2 * math.Pi
				base := ((b*h+y)*w + x) * dim
				for i := 0; i < half; i++ {
					out[base+i] = float32(encode(ye/freq[i], i))
					out[base+half+i] = float32(encode(xe/freq[i], i))
				}
			}
		}
	}

	return out
}

func encode(v float64, i int) float64 {
	if i%2 == 0 {
		return math.Sin(v)
	}

	return math.Cos(v)
}
