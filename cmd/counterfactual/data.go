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
	"math/rand/v2"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/tabular"
)

// Synthetic dataset: an immutable age, weekly hours and a work sector, encoded in 5 columns
// (age, hours, gov, private, self). The label follows the logistic model with
// syntheticWeights and syntheticBias, with noise.
var (
	syntheticSectors = []string{"gov", "private", "self"}
	syntheticWeights = []float64{1, 6, -1, 0, 0.5}
	syntheticBias    = -3.0
)

// syntheticConfig is the tabular configuration of the synthetic dataset.
func syntheticConfig() tabular.Config {
	return tabular.Config{
		ContinuousCols: []string{"age", "hours"},
		DiscreteCols:   []string{"sector"},
		ImmutableCols:  []string{"age"},
	}
}

// syntheticData generates numRows rows, deterministically from seed.
func syntheticData(numRows int, seed int64) (*tabular.Module, error) {
	rng := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	ages := make([]float64, numRows)
	hours := make([]float64, numRows)
	sectors := make([]string, numRows)
	labels := make([]int, numRows)
	for ii := range numRows {
		ages[ii] = float64(18 + rng.IntN(63))
		hours[ii] = float64(10 + rng.IntN(51))
		sector := rng.IntN(len(syntheticSectors))
		sectors[ii] = syntheticSectors[sector]

		// Score on the approximately scaled values.
		score := syntheticBias + syntheticWeights[0]*(ages[ii]-18)/62 + syntheticWeights[1]*(hours[ii]-10)/50 +
			syntheticWeights[2+sector] + 0.5*rng.NormFloat64()
		if score > 0 {
			labels[ii] = 1
		}
	}
	df := dataframe.New(
		series.New(ages, series.Float, "age"),
		series.New(hours, series.Float, "hours"),
		series.New(sectors, series.String, "sector"),
		series.New(labels, series.Int, "label"))
	return tabular.New(syntheticConfig(), df)
}

// loadData returns the CSV table of the configuration, if set, or the synthetic dataset.
func loadData(cfg DataConfig) (*tabular.Module, error) {
	if cfg.Tabular.DataPath != "" {
		return tabular.Load(cfg.Tabular)
	}
	return syntheticData(cfg.SyntheticRows, cfg.SyntheticSeed)
}

// linearPredictor returns sigmoid(x·weights + bias). If weights is empty the synthetic
// dataset's model is used. The number of weights must match width.
func linearPredictor(cfg PredictorConfig, width int) (counterfactual.Predictor, error) {
	weights, bias := cfg.Weights, cfg.Bias
	if len(weights) == 0 {
		weights, bias = syntheticWeights, syntheticBias
	}
	if len(weights) != width {
		return nil, counterfactual.ConstructionErrorf("predictor has %d weights, but the data is encoded in %d columns",
			len(weights), width)
	}
	column := make([][]float64, width)
	for ii, w := range weights {
		column[ii] = []float64{w}
	}
	return func(_ *context.Context, x *Node) *Node {
		w := ConvertDType(Const(x.Graph(), column), x.DType())
		return Sigmoid(AddScalar(Dot(x, w), bias))
	}, nil
}
