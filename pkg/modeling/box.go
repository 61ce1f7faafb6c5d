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

// CxcywhToXYXY converts a center-size box to corner form.
func CxcywhToXYXY(b [4]float64) [4]float64 {
	return [4]float64{b[0] - b[2]/2, b[1] - b[3]/2, b[0] + b[2]/2, b[1] + b[3]/2}
}

// XYXYToCxcywh converts a corner box to center-size form.
func XYXYToCxcywh(b [4]float64) [4]float64 {
	return [4]float64{(b[0] + b[2]) / 2, (b[1] + b[3]) / 2, b[2] - b[0], b[3] - b[1]}
}

func boxArea(b [4]float64) float64 {
	return math.Max(b[2]-b[0], 0) * math.Max(b[3]-b[1], 0)
}

// IoU of two XYXY boxes.
func IoU(a, b [4]float64) float64 {
	iou, _ := iouAndUnion(a, b)
	return iou
}

func iouAndUnion(a, b [4]float64) (float64, float64) {
	w := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	h := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	inter := math.Max(w, 0) * math.Max(h, 0)
	union := boxArea(a) + boxArea(b) - inter
	if union <= 0 {
		return 0, 0
	}

	return inter / union, union
}

// GeneralizedIoU of two XYXY boxes, in [-1, 1].
func GeneralizedIoU(a, b [4]float64) float64 {
	iou, union := iouAndUnion(a, b)
	hull := boxArea([4]float64{
		math.Min(a[0], b[0]), math.Min(a[1], b[1]),
		math.Max(a[2], b[2]), math.Max(a[3], b[3]),
	})
	if hull <= 0 {
		return iou
	}

	return iou - (hull-union)/hull
}
