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

package main

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/gomlx/counterfactual/internal/config"
	"github.com/gomlx/counterfactual/methods/cchvae"
	"github.com/gomlx/counterfactual/methods/dice"
	"github.com/gomlx/counterfactual/tabular"
)

// Config of a run: where the data comes from, the predictor and the methods' configurations.
type Config struct {
	Data      DataConfig         `yaml:"data"`
	Predictor PredictorConfig    `yaml:"predictor"`
	DiCE      dice.Config        `yaml:"dice"`
	CCHVAE    cchvae.Config      `yaml:"cchvae"`
	Train     cchvae.TrainConfig `yaml:"train"`

	// NumInstances is the number of test rows explained.
	NumInstances int `yaml:"n_instances" validate:"required,gt=0"`
}

// DataConfig selects a CSV table, if Tabular.DataPath is set, or the synthetic dataset.
type DataConfig struct {
	Tabular tabular.Config `yaml:"tabular"`

	// SyntheticRows and SyntheticSeed configure the synthetic dataset.
	SyntheticRows int   `yaml:"synthetic_rows" validate:"required,gt=3"`
	SyntheticSeed int64 `yaml:"synthetic_seed"`
}

// PredictorConfig is a logistic model over the encoded columns: sigmoid(x·weights + bias).
// If Weights is empty, the weights of the synthetic dataset are used.
type PredictorConfig struct {
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
}

// DefaultConfig explains 3 rows of the synthetic dataset, with the default method configurations.
func DefaultConfig() Config {
	return Config{
		Data: DataConfig{
			SyntheticRows: 1000,
			SyntheticSeed: 42,
		},
		DiCE:         dice.DefaultConfig(),
		CCHVAE:       cchvae.DefaultConfig(),
		Train:        cchvae.DefaultTrainConfig(),
		NumInstances: 3,
	}
}

// LoadConfig reads the YAML file in path over DefaultConfig. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), config.Validate(DefaultConfig())
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to open configuration %q", path)
	}
	defer func() { _ = f.Close() }()
	return ReadConfig(f)
}

// ReadConfig reads a YAML configuration over DefaultConfig.
func ReadConfig(r io.Reader) (Config, error) {
	return config.Decode(DefaultConfig(), r)
}
