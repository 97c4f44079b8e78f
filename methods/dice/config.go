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

package dice

import (
	"io"

	"github.com/gomlx/counterfactual/internal/config"
)

// Config of DiverseCF.
type Config struct {
	// NumCFs is the number of counterfactuals searched jointly.
	NumCFs int `yaml:"n_cfs" json:"n_cfs" mapstructure:"n_cfs" validate:"required,gt=0"`

	// NumSteps is the fixed number of optimization steps.
	NumSteps int `yaml:"n_steps" json:"n_steps" mapstructure:"n_steps" validate:"required,gt=0"`

	// LearningRate of the Adam optimizer.
	LearningRate float64 `yaml:"lr" json:"lr" mapstructure:"lr" validate:"required,gt=0"`

	// Weights of the validity, cost, diversity and regularization terms of the loss.
	Lambda1 float64 `yaml:"lambda_1" json:"lambda_1" mapstructure:"lambda_1" validate:"gte=0"`
	Lambda2 float64 `yaml:"lambda_2" json:"lambda_2" mapstructure:"lambda_2" validate:"gte=0"`
	Lambda3 float64 `yaml:"lambda_3" json:"lambda_3" mapstructure:"lambda_3" validate:"gte=0"`
	Lambda4 float64 `yaml:"lambda_4" json:"lambda_4" mapstructure:"lambda_4" validate:"gte=0"`

	// ValidityFn and CostFn are names of losses, see counterfactual.KnownLosses.
	ValidityFn string `yaml:"validity_fn" json:"validity_fn" mapstructure:"validity_fn" validate:"required"`
	CostFn     string `yaml:"cost_fn" json:"cost_fn" mapstructure:"cost_fn" validate:"required"`

	// Seed of the initial candidates.
	Seed int64 `yaml:"seed" json:"seed" mapstructure:"seed"`

	// Progress displays a progress bar during the optimization.
	Progress bool `yaml:"progress" json:"progress" mapstructure:"progress"`
}

// DefaultConfig returns the default DiverseCF configuration.
func DefaultConfig() Config {
	return Config{
		NumCFs:       5,
		NumSteps:     1000,
		LearningRate: 0.001,
		Lambda1:      1.0,
		Lambda2:      0.1,
		Lambda3:      1.0,
		Lambda4:      0.1,
		ValidityFn:   "KLDivergence",
		CostFn:       "MeanSquaredError",
		Seed:         42,
	}
}

// Validate the configuration. Invalid values are a counterfactual.ConstructionError.
func (c Config) Validate() error { return config.Validate(c) }

// ConfigFromMap returns DefaultConfig overridden by the values in m, keyed by the yaml names
// ("n_cfs", "lr", ...). Unknown keys are rejected.
func ConfigFromMap(m map[string]any) (Config, error) {
	return config.FromMap(DefaultConfig(), m)
}

// LoadConfig reads a YAML configuration over DefaultConfig. Unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	return config.Decode(DefaultConfig(), r)
}
