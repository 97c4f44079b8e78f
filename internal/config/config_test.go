/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/counterfactual"
)

type testConfig struct {
	Steps int     `yaml:"n_steps" mapstructure:"n_steps" validate:"required,gt=0"`
	Rate  float64 `yaml:"lr" mapstructure:"lr" validate:"gt=0"`
	Sizes []int   `yaml:"sizes" mapstructure:"sizes" validate:"dive,gt=0"`
	Name  string  `yaml:"name" mapstructure:"name"`
}

var testDefaults = testConfig{Steps: 10, Rate: 0.1, Sizes: []int{4, 2}, Name: "default"}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(testDefaults, map[string]any{"n_steps": 3, "sizes": []int{1}})
	require.NoError(t, err)
	assert.Equal(t, testConfig{Steps: 3, Rate: 0.1, Sizes: []int{1}, Name: "default"}, cfg)

	_, err = FromMap(testDefaults, map[string]any{"n_stepz": 3})
	require.ErrorIs(t, err, counterfactual.ErrConstruction)

	_, err = FromMap(testDefaults, map[string]any{"n_steps": 0})
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
	assert.Contains(t, err.Error(), "n_steps")
}

func TestDecode(t *testing.T) {
	cfg, err := Decode(testDefaults, strings.NewReader("lr: 0.5\nname: other\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Rate)
	assert.Equal(t, 10, cfg.Steps)
	assert.Equal(t, "other", cfg.Name)

	cfg, err = Decode(testDefaults, strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, testDefaults, cfg)

	_, err = Decode(testDefaults, strings.NewReader("unknown: 1\n"))
	require.ErrorIs(t, err, counterfactual.ErrConstruction)

	_, err = Decode(testDefaults, strings.NewReader("sizes: [3, -1]\n"))
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}
