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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uavdetect/detrtrain/pkg/data"
)

func TestParseArchKind(t *testing.T) {
	tests := []struct {
		name   string
		arch   string
		expect func(t *testing.T, kind ArchKind, err error)
	}{
		{
			name: "detr",
			arch: "Detr",
			expect: func(t *testing.T, kind ArchKind, err error) {
				assert.NoError(t, err)
				assert.Equal(t, ArchDetr, kind)
				assert.Equal(t, "Detr", kind.String())
			},
		},
		{
			name: "unknown",
			arch: "GeneralizedRCNN",
			expect: func(t *testing.T, kind ArchKind, err error) {
				assert.ErrorIs(t, err, ErrUnknownArch)
				assert.ErrorContains(t, err, "GeneralizedRCNN")
				assert.Equal(t, ArchUnknown, kind)
				assert.Equal(t, "Unknown", kind.String())
			},
		},
		{
			name: "case sensitive",
			arch: "detr",
			expect: func(t *testing.T, kind ArchKind, err error) {
				assert.ErrorIs(t, err, ErrUnknownArch)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := ParseArchKind(tc.arch)
			tc.expect(t, kind, err)
		})
	}
}

func TestArchMapper(t *testing.T) {
	input := data.DefaultInputConfig()
	assert.IsType(t, &data.DetrDatasetMapper{}, ArchDetr.Mapper(input, true))
	assert.Nil(t, ArchUnknown.Mapper(input, true))

	kind, err := RegisterArch(ArchSpec{
		Name:  "PlainDetr",
		Build: buildDetr,
	})
	require.NoError(t, err)
	assert.NotEqual(t, ArchDetr, kind)
	assert.Nil(t, kind.Mapper(input, true))

	again, err := RegisterArch(ArchSpec{Name: "PlainDetr", Build: func(Config, Backend) (Model, error) { return nil, nil }})
	require.NoError(t, err)
	assert.Equal(t, kind, again)

	_, err = RegisterArch(ArchSpec{Name: "NoBuilder"})
	assert.Error(t, err)
}

func TestBuildModel(t *testing.T) {
	cfg := tinyConfig()
	m, err := BuildModel(cfg, NewBackend())
	require.NoError(t, err)
	assert.IsType(t, &Detr{}, m)

	cfg.MetaArchitecture = "Missing"
	_, err = BuildModel(cfg, NewBackend())
	assert.ErrorIs(t, err, ErrUnknownArch)
}
