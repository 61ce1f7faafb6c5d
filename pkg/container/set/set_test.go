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

package set

import (
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type tensorRef struct{ id int }

func TestSetAdd(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		expect func(t *testing.T, s Set[string], added []bool)
	}{
		{
			name:   "add distinct values",
			values: []string{"backbone.conv1.weight", "class_embed.weight"},
			expect: func(t *testing.T, s Set[string], added []bool) {
				assert := assert.New(t)
				assert.Equal([]bool{true, true}, added)
				assert.Equal(uint(2), s.Len())
			},
		},
		{
			name:   "add duplicate value",
			values: []string{"query_embed", "query_embed"},
			expect: func(t *testing.T, s Set[string], added []bool) {
				assert := assert.New(t)
				assert.Equal([]bool{true, false}, added)
				assert.Equal([]string{"query_embed"}, s.Values())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New[string]()
			var added []bool
			for _, v := range tc.values {
				added = append(added, s.Add(v))
			}
			tc.expect(t, s, added)
		})
	}
}

func TestSetPointerIdentity(t *testing.T) {
	assert := assert.New(t)
	a, b := &tensorRef{id: 1}, &tensorRef{id: 1}

	s := New[*tensorRef]()
	assert.True(s.Add(a))
	assert.False(s.Add(a))
	assert.True(s.Add(b))
	assert.True(s.Contains(a, b))
	assert.Equal(uint(2), s.Len())

	s.Delete(a)
	assert.False(s.Contains(a))
	s.Clear()
	assert.Equal(uint(0), s.Len())
}

func TestSetRangeStops(t *testing.T) {
	s := New[int]()
	for i := 0; i < 10; i++ {
		s.Add(i)
	}

	visited := 0
	s.Range(func(int) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

func TestSafeSetConcurrentAdd(t *testing.T) {
	const n = 1000
	s := NewSafeSet[int]()
	nums := rand.Perm(n)

	var wg sync.WaitGroup
	wg.Add(len(nums))
	for _, v := range nums {
		go func(v int) {
			defer wg.Done()
			s.Add(v)
			s.Add(v)
		}(v)
	}
	wg.Wait()

	values := s.Values()
	sort.Ints(values)
	assert.Equal(t, uint(n), s.Len())
	assert.Equal(t, 0, values[0])
	assert.Equal(t, n-1, values[n-1])
}
