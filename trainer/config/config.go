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

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	logger "github.com/uavdetect/detrtrain/internal/dflog"
	"github.com/uavdetect/detrtrain/pkg/data"
	"github.com/uavdetect/detrtrain/pkg/evaluation"
	"github.com/uavdetect/detrtrain/pkg/modeling"
	"github.com/uavdetect/detrtrain/pkg/solver"
)

var (
	// ErrFrozen is returned by every mutation of a frozen config.
	ErrFrozen = errors.New("config is frozen")

	// ErrUnknownKey is returned when a file or an override names a key the schema lacks.
	ErrUnknownKey = errors.New("non-existent config key")
)

type Config struct {
	Model modeling.Config `yaml:"MODEL" mapstructure:"MODEL"`

	Input data.InputConfig `yaml:"INPUT" mapstructure:"INPUT"`

	Datasets data.DatasetsConfig `yaml:"DATASETS" mapstructure:"DATASETS"`

	DataLoader data.LoaderConfig `yaml:"DATALOADER" mapstructure:"DATALOADER"`

	Solver solver.Config `yaml:"SOLVER" mapstructure:"SOLVER"`

	Test evaluation.TestConfig `yaml:"TEST" mapstructure:"TEST"`

	// Metrics configuration.
	Metrics MetricsConfig `yaml:"METRICS" mapstructure:"METRICS"`

	// Log file rotation, used when logging to files.
	Log logger.LogRotateConfig `yaml:"LOG" mapstructure:"LOG"`

	// OutputDir receives checkpoints, logs, metrics and evaluation results.
	OutputDir string `yaml:"OUTPUT_DIR" mapstructure:"OUTPUT_DIR" validate:"required"`

	// Seed of every random generator. A negative seed is derived from time and pid.
	Seed int64 `yaml:"SEED" mapstructure:"SEED"`

	Version int `yaml:"VERSION" mapstructure:"VERSION"`

	frozen bool
}

type MetricsConfig struct {
	// Enable metrics service.
	Enable bool `yaml:"ENABLE" mapstructure:"ENABLE"`

	// Metrics service address.
	Addr string `yaml:"ADDR" mapstructure:"ADDR"`
}

// New returns the framework defaults.
func New() *Config {
	return &Config{
		Model:      modeling.DefaultConfig(),
		Input:      data.DefaultInputConfig(),
		Datasets:   data.DatasetsConfig{Train: []string{}, Test: []string{}},
		DataLoader: data.DefaultLoaderConfig(),
		Solver:     solver.DefaultConfig(),
		Test:       evaluation.DefaultTestConfig(),
		Metrics: MetricsConfig{
			Enable: false,
			Addr:   DefaultMetricsAddr,
		},
		OutputDir: DefaultOutputDir,
		Seed:      DefaultSeed,
		Version:   DefaultVersion,
	}
}

// AddDetrConfig adds the DETR defaults: the MODEL.DETR section, the AdamW optimizer and a
// 0.1 backbone learning rate multiplier.
func (c *Config) AddDetrConfig() error {
	if c.frozen {
		return ErrFrozen
	}

	c.Model.Detr = modeling.DefaultDetrConfig()
	c.Solver.Optimizer = solver.OptimizerAdamW.String()
	c.Solver.BackboneMultiplier = DefaultDetrBackboneMultiplier
	return nil
}

// Freeze makes the config read-only.
func (c *Config) Freeze() {
	c.frozen = true
}

func (c *Config) IsFrozen() bool {
	return c.frozen
}

// MergeFromFile merges a YAML file over c. The file's _BASE_, resolved against the
// file's directory when relative, is merged first.
func (c *Config) MergeFromFile(path string) error {
	if c.frozen {
		return ErrFrozen
	}

	return c.mergeFromFile(path, map[string]bool{})
}

func (c *Config) mergeFromFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if visited[abs] {
		return fmt.Errorf("config %s is included recursively", path)
	}
	visited[abs] = true

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return pkgerrors.Wrapf(err, "read config %s", path)
	}

	if base := v.GetString(BaseKey); base != "" {
		if !filepath.IsAbs(base) {
			base = filepath.Join(filepath.Dir(path), base)
		}

		if err := c.mergeFromFile(base, visited); err != nil {
			return err
		}
	}

	updates := make(map[string]any)
	for _, key := range v.AllKeys() {
		if strings.EqualFold(key, BaseKey) {
			continue
		}
		updates[strings.ToUpper(key)] = v.Get(key)
	}

	if err := c.apply(updates); err != nil {
		return pkgerrors.Wrapf(err, "merge config %s", path)
	}

	logger.Debugf("merged config %s", path)
	return nil
}

// MergeFromList applies KEY VALUE pairs in order. Values are parsed as YAML, and a
// parenthesized tuple such as (480, 512) becomes a list.
func (c *Config) MergeFromList(opts []string) error {
	if c.frozen {
		return ErrFrozen
	}

	if len(opts)%2 != 0 {
		return fmt.Errorf("override list has odd length %d: %v", len(opts), opts)
	}

	for i := 0; i < len(opts); i += 2 {
		if err := c.apply(map[string]any{opts[i]: parseValue(opts[i+1])}); err != nil {
			return err
		}
	}

	return nil
}

// apply replaces the leaves named by the dotted keys of updates and decodes the result
// into c.
func (c *Config) apply(updates map[string]any) error {
	tree, err := c.toMap()
	if err != nil {
		return err
	}

	s := configSchema()
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := updates[key]
		f, ok := s.leaves[strings.ToLower(key)]
		if !ok {
			if m, isMap := value.(map[string]any); isMap && len(m) == 0 && s.sections[strings.ToLower(key)] {
				continue
			}
			return fmt.Errorf("%w: %s", ErrUnknownKey, key)
		}

		if f.list {
			if str, isString := value.(string); isString {
				value = parseTuple(str)
			}
		}

		setPath(tree, f.path, value)
	}

	var out Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(tree); err != nil {
		return err
	}

	out.frozen = c.frozen
	*c = out
	return nil
}

func (c *Config) toMap() (map[string]any, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}

	tree := map[string]any{}
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return nil, err
	}

	return tree, nil
}

func setPath(tree map[string]any, path []string, value any) {
	for _, p := range path[:len(path)-1] {
		next, ok := tree[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[p] = next
		}
		tree = next
	}

	tree[path[len(path)-1]] = value
}

// parseValue decodes an override value as YAML, keeping the raw string when it is not
// valid YAML.
func parseValue(raw string) any {
	if isTuple(raw) {
		return parseTuple(raw)
	}

	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}

	return v
}

func isTuple(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
}

// parseTuple turns "(a, b)" into a list. Other strings are returned unchanged.
func parseTuple(s string) any {
	if !isTuple(s) {
		return s
	}

	inner := strings.TrimSpace(s)
	inner = inner[1 : len(inner)-1]
	items := []any{}
	for _, part := range strings.Split(inner, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		items = append(items, parseValue(part))
	}

	return items
}

type field struct {
	path []string
	list bool
}

type schema struct {
	leaves   map[string]field
	sections map[string]bool
}

// configSchema lists every settable key of Config, lower-cased and dotted.
func configSchema() schema {
	s := schema{leaves: map[string]field{}, sections: map[string]bool{}}
	walkSchema(reflect.TypeOf(Config{}), nil, s)
	return s
}

func walkSchema(t reflect.Type, prefix []string, s schema) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}

		path := append(append([]string(nil), prefix...), name)
		key := strings.ToLower(strings.Join(path, "."))
		if f.Type.Kind() == reflect.Struct {
			s.sections[key] = true
			walkSchema(f.Type, path, s)
			continue
		}

		s.leaves[key] = field{path: path, list: f.Type.Kind() == reflect.Slice}
	}
}

// Validate checks field constraints and the enumerations parsed elsewhere.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return pkgerrors.Wrap(err, "validate config")
	}

	if _, err := modeling.ParseArchKind(c.Model.MetaArchitecture); err != nil {
		return err
	}

	if c.Model.MaskOn {
		return modeling.ErrMaskUnsupported
	}

	if !sort.IntsAreSorted(c.Solver.Steps) {
		return fmt.Errorf("SOLVER.STEPS must be increasing, got %v", c.Solver.Steps)
	}

	for _, step := range c.Solver.Steps {
		if step > c.Solver.MaxIter {
			logger.Warnf("SOLVER.STEPS contains %d, larger than SOLVER.MAX_ITER %d", step, c.Solver.MaxIter)
		}
	}

	if _, err := evaluation.ParseExpectedResults(c.Test.ExpectedResults); err != nil {
		return err
	}

	return nil
}

// Dump writes c as YAML, in the form MergeFromFile reads.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}

	return enc.Close()
}

func (c *Config) String() string {
	var b strings.Builder
	if err := c.Dump(&b); err != nil {
		return err.Error()
	}

	return b.String()
}
