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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/catalog"
	"github.com/uavdetect/detrtrain/pkg/coco"
	"github.com/uavdetect/detrtrain/pkg/comm"
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/modeling"
)

const (
	TaskBBox = "bbox"

	// ResultsFileName is written to the output directory on every evaluation.
	ResultsFileName = "coco_instances_results.json"
)

// COCOEvaluator scores box detections with COCO average precision.
type COCOEvaluator struct {
	datasetName  string
	distributed  bool
	outputDir    string
	maxDetsImage int
	records      map[int64]coco.Record
	meta         *coco.Metadata

	mu          sync.Mutex
	predictions map[int64][]coco.Result
}

var _ DatasetEvaluator = (*COCOEvaluator)(nil)

// NewCOCOEvaluator loads the ground truth of datasetName. With distributed set only the
// main process evaluates. An empty outputDir skips writing results.
func NewCOCOEvaluator(c *catalog.Catalog, datasetName string, cfg TestConfig, distributed bool, outputDir string) (*COCOEvaluator, error) {
	records, meta, err := c.Load(datasetName)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]coco.Record, len(records))
	for _, r := range records {
		byID[r.ImageID] = r
	}

	return &COCOEvaluator{
		datasetName:  datasetName,
		distributed:  distributed,
		outputDir:    outputDir,
		maxDetsImage: cfg.DetectionsPerImage,
		records:      byID,
		meta:         meta,
		predictions:  map[int64][]coco.Result{},
	}, nil
}

func (e *COCOEvaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predictions = map[int64][]coco.Result{}
}

// Process converts detections to COCO results with dataset category ids.
func (e *COCOEvaluator) Process(inputs []data.Sample, outputs []modeling.Detections) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, out := range outputs {
		instances := append([]modeling.Detection(nil), out.Instances...)
		sort.SliceStable(instances, func(i, j int) bool { return instances[i].Score > instances[j].Score })
		if e.maxDetsImage > 0 && len(instances) > e.maxDetsImage {
			instances = instances[:e.maxDetsImage]
		}

		results := make([]coco.Result, 0, len(instances))
		for _, d := range instances {
			if d.Class < 0 || d.Class >= len(e.meta.ContiguousIDToThingDatasetID) {
				continue
			}

			results = append(results, coco.Result{
				ImageID:    out.ImageID,
				CategoryID: e.meta.ContiguousIDToThingDatasetID[d.Class],
				BBox:       coco.Box{d.Box[0], d.Box[1], d.Box[2] - d.Box[0], d.Box[3] - d.Box[1]},
				Score:      d.Score,
			})
		}
		e.predictions[out.ImageID] = results
	}
}

// Evaluate writes the results file and returns bbox AP metrics scaled to [0, 100].
func (e *COCOEvaluator) Evaluate() (Results, error) {
	if e.distributed && !comm.IsMainProcess() {
		return Results{}, nil
	}

	e.mu.Lock()
	predictions := e.predictions
	e.mu.Unlock()

	log := logger.WithDataset(e.datasetName)
	if len(predictions) == 0 {
		log.Warnf("did not receive valid predictions")
		return Results{}, nil
	}

	imageIDs := make([]int64, 0, len(predictions))
	var all []coco.Result
	for id := range predictions {
		imageIDs = append(imageIDs, id)
	}
	sort.Slice(imageIDs, func(i, j int) bool { return imageIDs[i] < imageIDs[j] })
	for _, id := range imageIDs {
		all = append(all, predictions[id]...)
	}

	if e.outputDir != "" {
		if err := os.MkdirAll(e.outputDir, 0755); err != nil {
			return nil, err
		}

		path := filepath.Join(e.outputDir, ResultsFileName)
		log.Infof("saving results to %s", path)
		if err := coco.WriteResults(path, all); err != nil {
			return nil, err
		}
	}

	metrics, err := e.evalBox(imageIDs, all)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate %s", e.datasetName)
	}

	return Results{TaskBBox: metrics}, nil
}

func (e *COCOEvaluator) evalBox(imageIDs []int64, results []coco.Result) (map[string]float64, error) {
	metricNames := []string{"AP", "AP50", "AP75", "APs", "APm", "APl"}
	if len(results) == 0 {
		logger.WithDataset(e.datasetName).Warnf("no predictions from the model")
		metrics := make(map[string]float64, len(metricNames))
		for _, name := range metricNames {
			metrics[name] = math.NaN()
		}
		return metrics, nil
	}

	ce := &cocoEval{
		params:   defaultParams(),
		imageIDs: imageIDs,
		gts:      map[evalKey][]groundTruth{},
		dts:      map[evalKey][]detection{},
	}
	for k := range e.meta.ThingClasses {
		ce.categories = append(ce.categories, k)
	}

	for _, id := range imageIDs {
		rec, ok := e.records[id]
		if !ok {
			return nil, fmt.Errorf("prediction for unknown image %d", id)
		}

		for _, inst := range rec.Instances {
			key := evalKey{image: id, category: inst.CategoryID}
			ce.gts[key] = append(ce.gts[key], groundTruth{box: inst.BBox, area: inst.BBox.Area(), crowd: inst.IsCrowd})
		}
	}

	for _, r := range results {
		cat, ok := e.meta.ThingDatasetIDToContiguousID[r.CategoryID]
		if !ok {
			return nil, fmt.Errorf("prediction has unknown category %d", r.CategoryID)
		}

		key := evalKey{image: r.ImageID, category: cat}
		ce.dts[key] = append(ce.dts[key], detection{box: r.BBox, area: r.BBox.Area(), score: r.Score})
	}

	ce.evaluate()

	maxDet := ce.params.maxDets[len(ce.params.maxDets)-1]
	stats := []float64{
		ce.summarize(-1, areaAll, maxDet),
		ce.summarize(0.5, areaAll, maxDet),
		ce.summarize(0.75, areaAll, maxDet),
		ce.summarize(-1, areaSmall, maxDet),
		ce.summarize(-1, areaMedium, maxDet),
		ce.summarize(-1, areaLarge, maxDet),
	}

	metrics := make(map[string]float64, len(metricNames)+len(e.meta.ThingClasses))
	var table strings.Builder
	for i, name := range metricNames {
		v := math.NaN()
		if stats[i] >= 0 {
			v = stats[i] * 100
		}
		metrics[name] = v
		fmt.Fprintf(&table, "%s=%.3f ", name, v)
	}
	logger.EvalLogger.Infof("evaluation results for %s: %s", TaskBBox, strings.TrimSpace(table.String()))

	for k, name := range e.meta.ThingClasses {
		metrics["AP-"+name] = ce.categoryAP(k) * 100
	}

	return metrics, nil
}
