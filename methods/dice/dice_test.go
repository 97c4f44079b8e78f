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
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/go-gota/gota/series"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/features"
)

var _ counterfactual.Explainer = (*DiverseCF)(nil)

// flipPredictor is high when feature 1 exceeds 0.5 and feature 0 is below 0.3.
func flipPredictor(_ *context.Context, x *Node) *Node {
	f0 := Slice(x, AxisRange(), AxisElem(0))
	f1 := Slice(x, AxisRange(), AxisElem(1))
	return Mul(
		Sigmoid(MulScalar(AddScalar(f1, -0.5), 20)),
		Sigmoid(MulScalar(Neg(AddScalar(f0, -0.3)), 20)))
}

// buildFeatures returns two min-max features over [0, 1], the first immutable, and a
// 2-categories one-hot.
func buildFeatures(t *testing.T) *features.Materialized {
	f0 := must.M1(features.New("f0", series.New([]float64{0, 1, 0.2}, series.Float, "f0"), features.NewMinMax()).
		Immutable().Done())
	f1 := must.M1(features.New("f1", series.New([]float64{0, 1, 0.7}, series.Float, "f1"), features.NewMinMax()).Done())
	cat := must.M1(features.New("cat", series.New([]string{"a", "b", "a"}, series.String, "cat"), features.NewOneHot()).Done())
	l, err := features.NewList(f0, f1, cat)
	require.NoError(t, err)
	m, err := l.Materialize()
	require.NoError(t, err)
	require.Equal(t, 4, m.Width())
	return m
}

func TestDiverseCF(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := DefaultConfig()
	cfg.NumCFs = 3
	cfg.NumSteps = 200
	d, err := New(backend, nil, flipPredictor, buildFeatures(t), cfg)
	require.NoError(t, err)
	assert.Equal(t, "DiverseCF", d.Name())

	x := tensors.FromValue([]float32{0.2, 0.7, 1, 0})
	result, err := d.Search(x, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}}, result.Target.Value())
	assert.Len(t, result.LossHistory, 200)

	cfs := result.CFs.Value().([][]float32)
	require.Len(t, cfs, 3)
	for ii, row := range cfs {
		require.Len(t, row, 4)
		assert.Equalf(t, float32(0.2), row[0], "immutable column of row %d", ii)
		assert.Equalf(t, float32(1), row[2]+row[3], "one-hot block of row %d", ii)
		assert.Truef(t, row[2] == 0 || row[2] == 1, "one-hot block of row %d: %v", ii, row[2:])
		assert.Truef(t, row[1] >= 0 && row[1] <= 1, "min-max column of row %d: %v", ii, row[1])
	}

	// Same seed and inputs: bit-identical candidates.
	again, err := d.GenerateCF(tensors.FromValue([][]float32{{0.2, 0.7, 1, 0}}))
	require.NoError(t, err)
	assert.Equal(t, result.CFs.Value(), again.Value())

	// A new instance with the same configuration reproduces them too.
	d2 := must.M1(New(backend, context.New(), flipPredictor, buildFeatures(t), cfg))
	again, err = d2.GenerateCF(x)
	require.NoError(t, err)
	assert.Equal(t, result.CFs.Value(), again.Value())

	// Explicit target.
	result, err = d.Search(x, tensors.FromValue([]float64{1}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}}, result.Target.Value())
}

func TestDiverseCFErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := DefaultConfig()
	cfg.NumSteps = 2
	d := must.M1(New(backend, nil, flipPredictor, buildFeatures(t), cfg))

	_, err := d.GenerateCF(tensors.FromValue([][]float32{{0.2, 0.7, 1, 0}, {0.2, 0.7, 1, 0}}))
	require.ErrorIs(t, err, counterfactual.ErrShape)
	_, err = d.GenerateCF(tensors.FromValue([]float32{0.2, 0.7, 1}))
	require.ErrorIs(t, err, counterfactual.ErrShape)
	_, err = d.GenerateCF(tensors.FromValue([]int32{1, 2, 3, 4}))
	require.ErrorIs(t, err, counterfactual.ErrShape)

	// A predictor with the wrong output shape fails at graph building.
	badPredictor := func(_ *context.Context, x *Node) *Node { return x }
	d = must.M1(New(backend, nil, badPredictor, nil, cfg))
	_, err = d.GenerateCF(tensors.FromValue([]float32{0.2, 0.7, 1, 0}))
	require.Error(t, err)

	cfg.CostFn = "Hinge"
	_, err = New(backend, nil, flipPredictor, nil, cfg)
	require.ErrorIs(t, err, counterfactual.ErrUnsupportedLoss)

	cfg = DefaultConfig()
	cfg.NumCFs = 0
	_, err = New(backend, nil, flipPredictor, nil, cfg)
	require.ErrorIs(t, err, counterfactual.ErrConstruction)

	_, err = New(backend, nil, nil, nil, DefaultConfig())
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}

func meanPairwiseL1(rows [][]float32) float64 {
	var sum float64
	var count int
	for ii := range rows {
		for jj := ii + 1; jj < len(rows); jj++ {
			for kk := range rows[ii] {
				sum += math.Abs(float64(rows[ii][kk] - rows[jj][kk]))
			}
			count++
		}
	}
	return sum / float64(count)
}

func TestDiversity(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	x := tensors.FromValue([]float32{0.2, 0.7, 1, 0})
	var withDiversity, withoutDiversity float64
	for seed := range int64(3) {
		for _, lambda3 := range []float64{0, 1} {
			cfg := DefaultConfig()
			cfg.NumCFs = 4
			cfg.NumSteps = 100
			cfg.LearningRate = 0.01
			cfg.Lambda3 = lambda3
			cfg.Seed = seed
			d := must.M1(New(backend, nil, flipPredictor, nil, cfg))
			cfs := must.M1(d.GenerateCF(x)).Value().([][]float32)
			if lambda3 > 0 {
				withDiversity += meanPairwiseL1(cfs)
			} else {
				withoutDiversity += meanPairwiseL1(cfs)
			}
		}
	}
	assert.GreaterOrEqual(t, withDiversity, withoutDiversity)
}

func TestDeterminant(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	rng := rand.New(rand.NewPCG(1, 2))
	const n, k = 5, 3
	points := make([][]float64, n)
	for ii := range points {
		points[ii] = make([]float64, k)
		for kk := range points[ii] {
			points[ii][kk] = rng.NormFloat64()
		}
	}

	// Kernel computed on the host.
	want := mat.NewDense(n, n, nil)
	for ii := range n {
		for jj := range n {
			var l1 float64
			for kk := range k {
				l1 += math.Abs(points[ii][kk] - points[jj][kk])
			}
			v := 1 / (1 + l1)
			if ii == jj {
				v += KernelJitter
			}
			want.Set(ii, jj, v)
		}
	}

	outputs := NewExec(backend, func(cfs *Node) []*Node {
		return []*Node{DiversityKernel(cfs), Diversity(cfs)}
	}).Call(tensors.FromValue(points))
	kernel := outputs[0].Value().([][]float64)
	for ii := range n {
		assert.InDeltaSlice(t, want.RawRowView(ii), kernel[ii], 1e-9)
	}
	assert.InDelta(t, mat.Det(want), tensors.ToScalar[float64](outputs[1]), 1e-9)

	// Identical candidates have a (nearly) singular kernel.
	same := NewExec(backend, Diversity).Call(tensors.FromValue([][]float64{{1, 2}, {1, 2}}))[0]
	assert.InDelta(t, 0, tensors.ToScalar[float64](same), 1e-6)
}

func TestDiversityCoincident(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	outputs := NewExec(backend, func(cfs *Node) []*Node {
		diversity := Diversity(cfs)
		return []*Node{diversity, Gradient(diversity, cfs)[0]}
	}).Call(tensors.FromValue([][]float32{{0.5, 0.5}, {0.5, 0.5}, {1, 0}}))
	diversity := tensors.ToScalar[float32](outputs[0])
	assert.False(t, math.IsNaN(float64(diversity)) || math.IsInf(float64(diversity), 0), "diversity=%v", diversity)
	assert.InDelta(t, 0, float64(diversity), 1e-4)
	for ii, row := range outputs[1].Value().([][]float32) {
		for jj, v := range row {
			assert.Falsef(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "gradient[%d][%d]=%v", ii, jj, v)
		}
	}
}

func TestDiverseCFMutableFeatures(t *testing.T) {
	f0 := must.M1(features.New("f0", series.New([]float64{0, 1, 0.2}, series.Float, "f0"), features.NewMinMax()).Done())
	f1 := must.M1(features.New("f1", series.New([]float64{0, 1, 0.7}, series.Float, "f1"), features.NewMinMax()).Done())
	m := must.M1(must.M1(features.NewList(f0, f1)).Materialize())
	require.False(t, m.HasImmutable())

	cfg := DefaultConfig()
	cfg.NumCFs = 2
	cfg.NumSteps = 20
	d := must.M1(New(graphtest.BuildTestBackend(), nil, flipPredictor, m, cfg))
	result, err := d.Search(tensors.FromValue([]float32{0.2, 0.7}), nil)
	require.NoError(t, err)
	cfs := result.CFs.Value().([][]float32)
	require.Len(t, cfs, 2)
	for ii, row := range cfs {
		for jj, v := range row {
			assert.Truef(t, v >= 0 && v <= 1, "min-max column %d of row %d: %v", jj, ii, v)
		}
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.NumCFs)
	assert.Equal(t, 1000, cfg.NumSteps)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.Equal(t, int64(42), cfg.Seed)

	cfg, err := ConfigFromMap(map[string]any{"n_cfs": 3, "lambda_3": 0.5, "validity_fn": "MeanSquaredError"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NumCFs)
	assert.Equal(t, 0.5, cfg.Lambda3)
	assert.Equal(t, "MeanSquaredError", cfg.ValidityFn)
	assert.Equal(t, 1000, cfg.NumSteps)

	_, err = ConfigFromMap(map[string]any{"n_cfz": 3})
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
	_, err = ConfigFromMap(map[string]any{"lambda_1": -1})
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
	_, err = ConfigFromMap(map[string]any{"cost_fn": ""})
	require.ErrorIs(t, err, counterfactual.ErrConstruction)

	cfg, err = LoadConfig(strings.NewReader("n_steps: 10\nseed: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.NumSteps)
	assert.Equal(t, int64(7), cfg.Seed)
	_, err = LoadConfig(strings.NewReader("n_step: 10\n"))
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}
