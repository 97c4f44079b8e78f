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

package cchvae

import (
	"io"

	"github.com/gomlx/counterfactual/internal/config"
)

// Config of the C-CHVAE search and of its VAE.
type Config struct {
	// EncSizes and DecSizes are the hidden layer sizes of the encoder and decoder MLPs.
	EncSizes []int `yaml:"enc_sizes" json:"enc_sizes" mapstructure:"enc_sizes" validate:"required,min=1,dive,gt=0"`
	DecSizes []int `yaml:"dec_sizes" json:"dec_sizes" mapstructure:"dec_sizes" validate:"required,min=1,dive,gt=0"`

	// EncodedSize is the dimension of the latent space.
	EncodedSize int `yaml:"encoded_size" json:"encoded_size" mapstructure:"encoded_size" validate:"required,gt=0"`

	// Dropout rate of the MLPs, only used while training.
	Dropout float64 `yaml:"dropout" json:"dropout" mapstructure:"dropout" validate:"gte=0,lt=1"`

	// LearningRate of the VAE training.
	LearningRate float64 `yaml:"lr" json:"lr" mapstructure:"lr" validate:"required,gt=0"`

	// MaxSteps bounds the number of latent annuli searched.
	MaxSteps int `yaml:"max_steps" json:"max_steps" mapstructure:"max_steps" validate:"required,gt=0"`

	// NumSearchSamples is the number of latent points sampled in each annulus.
	NumSearchSamples int `yaml:"n_search_samples" json:"n_search_samples" mapstructure:"n_search_samples" validate:"required,gt=0"`

	// StepSize is the width of each annulus.
	StepSize float64 `yaml:"step_size" json:"step_size" mapstructure:"step_size" validate:"required,gt=0"`

	// Seed of the search and of the VAE training.
	Seed int64 `yaml:"seed" json:"seed" mapstructure:"seed"`

	// Parallelism is the maximum number of rows searched concurrently by GenerateCFs.
	// 0 uses the number of CPUs.
	Parallelism int `yaml:"parallelism" json:"parallelism" mapstructure:"parallelism" validate:"gte=0"`

	// Progress displays a progress bar of the rows searched by GenerateCFs.
	Progress bool `yaml:"progress" json:"progress" mapstructure:"progress"`
}

// DefaultConfig returns the default C-CHVAE configuration.
func DefaultConfig() Config {
	return Config{
		EncSizes:         []int{20, 16, 14, 12},
		DecSizes:         []int{12, 14, 16, 20},
		EncodedSize:      5,
		Dropout:          0.3,
		LearningRate:     0.001,
		MaxSteps:         1000,
		NumSearchSamples: 300,
		StepSize:         0.1,
		Seed:             0,
	}
}

// Validate the configuration. Invalid values are a counterfactual.ConstructionError.
func (c Config) Validate() error { return config.Validate(c) }

// ConfigFromMap returns DefaultConfig overridden by the values in m, keyed by the yaml names.
// Unknown keys are rejected.
func ConfigFromMap(m map[string]any) (Config, error) {
	return config.FromMap(DefaultConfig(), m)
}

// LoadConfig reads a YAML configuration over DefaultConfig. Unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	return config.Decode(DefaultConfig(), r)
}

// TrainConfig configures the training of the VAE.
type TrainConfig struct {
	Epochs    int  `yaml:"n_epochs" json:"n_epochs" mapstructure:"n_epochs" validate:"required,gt=0"`
	BatchSize int  `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size" validate:"required,gt=0"`
	Progress  bool `yaml:"progress" json:"progress" mapstructure:"progress"`
}

// DefaultTrainConfig returns 10 epochs with batches of 128 rows.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{Epochs: 10, BatchSize: 128}
}

// Validate the training configuration.
func (c TrainConfig) Validate() error { return config.Validate(c) }

// TrainConfigFromMap returns DefaultTrainConfig overridden by the values in m.
func TrainConfigFromMap(m map[string]any) (TrainConfig, error) {
	return config.FromMap(DefaultTrainConfig(), m)
}
