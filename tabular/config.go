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

package tabular

import (
	"io"

	"github.com/gomlx/counterfactual/internal/config"
)

// Config of a tabular data module.
type Config struct {
	// DataPath of the CSV file, with a header. The last column is the target.
	DataPath string `yaml:"data_path" json:"data_path" mapstructure:"data_path"`

	// ContinuousCols are min-max scaled, DiscreteCols are one-hot encoded, in this order.
	ContinuousCols []string `yaml:"continuous_cols" json:"continuous_cols" mapstructure:"continuous_cols" validate:"dive,required"`
	DiscreteCols   []string `yaml:"discrete_cols" json:"discrete_cols" mapstructure:"discrete_cols" validate:"dive,required"`

	// ImmutableCols must be continuous or discrete columns.
	ImmutableCols []string `yaml:"immutable_cols" json:"immutable_cols" mapstructure:"immutable_cols" validate:"dive,required"`

	// SampleFrac keeps only this fraction of the training rows. 0 keeps them all.
	SampleFrac float64 `yaml:"sample_frac" json:"sample_frac" mapstructure:"sample_frac" validate:"gte=0,lte=1"`
}

// Validate the configuration.
func (c Config) Validate() error { return config.Validate(c) }

// ConfigFromMap returns a Config with the values in m, keyed by the yaml names.
func ConfigFromMap(m map[string]any) (Config, error) {
	return config.FromMap(Config{}, m)
}

// LoadConfig reads a YAML configuration. Unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	return config.Decode(Config{}, r)
}
