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

// Package catalog keeps the mapping from dataset names to their annotation files.
//
// A Catalog is filled during startup and sealed before training starts. It is passed
// explicitly to the loaders and evaluators that need it.
package catalog

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/uavdetect/detrtrain/pkg/coco"
)

var (
	// ErrConflict is returned when a name is registered twice with different paths.
	ErrConflict = errors.New("dataset already registered with a different mapping")

	// ErrSealed is returned by registrations after Seal.
	ErrSealed = errors.New("catalog is sealed")

	ErrNotFound = errors.New("dataset not registered")
)

// Entry is one registered COCO instances dataset.
type Entry struct {
	Name      string
	JSONFile  string
	ImageRoot string
	Metadata  map[string]string
}

func (e Entry) equal(o Entry) bool {
	return e.Name == o.Name && e.JSONFile == o.JSONFile && e.ImageRoot == o.ImageRoot && maps.Equal(e.Metadata, o.Metadata)
}

type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
	sealed  bool
}

func New() *Catalog {
	return &Catalog{entries: make(map[string]Entry)}
}

// RegisterCOCOInstances records where the annotations and images of name live. Files
// are not opened here; a wrong path shows up when the dataset is loaded.
func (c *Catalog) RegisterCOCOInstances(name string, metadata map[string]string, jsonFile, imageRoot string) error {
	if name == "" {
		return errors.New("dataset name is empty")
	}

	entry := Entry{
		Name:      name,
		JSONFile:  jsonFile,
		ImageRoot: imageRoot,
		Metadata:  maps.Clone(metadata),
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]string{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[name]; ok {
		if old.equal(entry) {
			return nil
		}

		return fmt.Errorf("%w: %s", ErrConflict, name)
	}

	if c.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrSealed, name)
	}

	c.entries[name] = entry
	return nil
}

// Seal makes the catalog read-only.
func (c *Catalog) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

func (c *Catalog) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}

func (c *Catalog) Get(name string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	e.Metadata = maps.Clone(e.Metadata)
	return e, nil
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (c *Catalog) Metadata(name string) (map[string]string, error) {
	e, err := c.Get(name)
	if err != nil {
		return nil, err
	}

	return e.Metadata, nil
}

// Load reads the records of name from disk.
func (c *Catalog) Load(name string) ([]coco.Record, *coco.Metadata, error) {
	e, err := c.Get(name)
	if err != nil {
		return nil, nil, err
	}

	records, meta, err := coco.Load(e.JSONFile, e.ImageRoot)
	if err != nil {
		return nil, nil, pkgerrors.Wrapf(err, "load dataset %s", name)
	}

	return records, meta, nil
}

// LoadMany concatenates the records of names. The metadata of the first dataset is
// returned; all datasets must share the same category list.
func (c *Catalog) LoadMany(names ...string) ([]coco.Record, *coco.Metadata, error) {
	if len(names) == 0 {
		return nil, nil, errors.New("no dataset names given")
	}

	var (
		all   []coco.Record
		first *coco.Metadata
	)
	for _, name := range names {
		records, meta, err := c.Load(name)
		if err != nil {
			return nil, nil, err
		}

		if first == nil {
			first = meta
		} else if !slices.Equal(first.ThingClasses, meta.ThingClasses) {
			return nil, nil, fmt.Errorf("dataset %s has classes %v, %s has %v", names[0], first.ThingClasses, name, meta.ThingClasses)
		}

		all = append(all, records...)
	}

	return all, first, nil
}
