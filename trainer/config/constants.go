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

package config

const (
	// DefaultMetricsAddr is default address for metrics server.
	DefaultMetricsAddr = ":8000"

	DefaultOutputDir = "./output"

	DefaultSeed = -1

	DefaultVersion = 2

	// DefaultDetrBackboneMultiplier scales the backbone learning rate of DETR models.
	DefaultDetrBackboneMultiplier = 0.1
)

// BaseKey names the file a config file inherits from.
const BaseKey = "_BASE_"
