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
	"sort"
	"sync"

	"github.com/uavdetect/detrtrain/pkg/data"
)

var ErrUnknownArch = errors.New("unknown meta architecture")

// ArchKind identifies a registered meta-architecture.
type ArchKind int

const (
	ArchUnknown ArchKind = iota
	ArchDetr
)

// ModelBuilder constructs a model of one architecture.
type ModelBuilder func(cfg Config, b Backend) (Model, error)

// MapperFactory constructs the dataset mapper an architecture trains with.
type MapperFactory func(cfg data.InputConfig, isTrain bool) data.Mapper

// ArchSpec describes a meta-architecture. A nil NewMapper means the loader's default
// mapper is used.
type ArchSpec struct {
	Name      string
	Build     ModelBuilder
	NewMapper MapperFactory
}

var registry = struct {
	sync.RWMutex
	specs  map[ArchKind]ArchSpec
	byName map[string]ArchKind
	next   ArchKind
}{
	specs:  map[ArchKind]ArchSpec{},
	byName: map[string]ArchKind{},
	next:   ArchDetr + 1,
}

func init() {
	registerKind(ArchDetr, ArchSpec{
		Name:  "Detr",
		Build: buildDetr,
		NewMapper: func(cfg data.InputConfig, isTrain bool) data.Mapper {
			return data.NewDetrDatasetMapper(cfg, isTrain)
		},
	})
}

func buildDetr(cfg Config, b Backend) (Model, error) {
	m, err := NewDetr(cfg, b)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func registerKind(kind ArchKind, spec ArchSpec) {
	registry.Lock()
	defer registry.Unlock()
	registry.specs[kind] = spec
	registry.byName[spec.Name] = kind
}

// RegisterArch adds a meta-architecture and returns its kind. Registering a name twice
// returns the existing kind.
func RegisterArch(spec ArchSpec) (ArchKind, error) {
	if spec.Name == "" || spec.Build == nil {
		return ArchUnknown, errors.New("arch spec requires a name and a builder")
	}

	registry.Lock()
	defer registry.Unlock()
	if kind, ok := registry.byName[spec.Name]; ok {
		return kind, nil
	}

	kind := registry.next
	registry.next++
	registry.specs[kind] = spec
	registry.byName[spec.Name] = kind
	return kind, nil
}

// ParseArchKind maps MODEL.META_ARCHITECTURE to its kind.
func ParseArchKind(name string) (ArchKind, error) {
	registry.RLock()
	defer registry.RUnlock()

	kind, ok := registry.byName[name]
	if !ok {
		return ArchUnknown, fmt.Errorf("%w %q, registered: %v", ErrUnknownArch, name, archNamesLocked())
	}

	return kind, nil
}

func (k ArchKind) Spec() (ArchSpec, bool) {
	registry.RLock()
	defer registry.RUnlock()
	spec, ok := registry.specs[k]
	return spec, ok
}

func (k ArchKind) String() string {
	if spec, ok := k.Spec(); ok {
		return spec.Name
	}

	return "Unknown"
}

// Mapper returns the architecture's training mapper, or nil for the loader default.
func (k ArchKind) Mapper(cfg data.InputConfig, isTrain bool) data.Mapper {
	spec, ok := k.Spec()
	if !ok || spec.NewMapper == nil {
		return nil
	}

	return spec.NewMapper(cfg, isTrain)
}

// BuildModel constructs the model named by cfg.MetaArchitecture.
func BuildModel(cfg Config, b Backend) (Model, error) {
	kind, err := ParseArchKind(cfg.MetaArchitecture)
	if err != nil {
		return nil, err
	}

	spec, _ := kind.Spec()
	return spec.Build(cfg, b)
}

func archNamesLocked() []string {
	names := make([]string, 0, len(registry.byName))
	for name := range registry.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
