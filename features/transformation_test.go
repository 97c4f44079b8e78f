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

package features

import (
	"testing"

	"github.com/go-gota/gota/series"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/counterfactual"
)

func TestMinMax(t *testing.T) {
	raw := series.New([]float64{2, 4, 6, 10}, series.Float, "age")
	tr := NewMinMax()
	require.False(t, tr.IsFitted())
	require.NoError(t, tr.Fit(raw))
	require.True(t, tr.IsFitted())
	minV, maxV := tr.Range()
	assert.Equal(t, 2.0, minV)
	assert.Equal(t, 10.0, maxV)

	rows, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0}, {0.25}, {0.5}, {1}}, rows)

	back, err := tr.InverseTransform("age", rows)
	require.NoError(t, err)
	assert.InDeltaSlice(t, raw.Float(), back.Float(), 1e-9)

	// Fit is a no-op once fitted.
	require.NoError(t, tr.Fit(series.New([]float64{-100, 100}, series.Float, "age")))
	minV, maxV = tr.Range()
	assert.Equal(t, 2.0, minV)
	assert.Equal(t, 10.0, maxV)

	// Constant columns don't divide by zero.
	constant := NewMinMax()
	require.NoError(t, constant.Fit(series.New([]float64{3, 3}, series.Float, "c")))
	rows, err = constant.Transform(series.New([]float64{3, 4}, series.Float, "c"))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0}, {1}}, rows)
}

func TestFrozen(t *testing.T) {
	tr, err := NewMinMaxFitted(0, 100)
	require.NoError(t, err)
	require.True(t, tr.IsFrozen())
	require.NoError(t, tr.Fit(series.New([]float64{5, 10}, series.Float, "x")))
	rows, err := tr.Transform(series.New([]float64{50}, series.Float, "x"))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5}}, rows)

	_, err = NewMinMaxFitted(1, 0)
	require.ErrorIs(t, err, counterfactual.ErrConstruction)

	ohe, err := NewOneHotFitted(series.New([]string{"b", "a", "c"}, series.String, "cats"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ohe.Categories())
	require.NoError(t, ohe.Fit(series.New([]string{"z"}, series.String, "cats")))
	assert.Equal(t, 3, ohe.Width())
}

func TestOneHot(t *testing.T) {
	raw := series.New([]string{"red", "blue", "green", "blue"}, series.String, "color")
	tr := NewOneHot()
	require.NoError(t, tr.Fit(raw))
	assert.Equal(t, 3, tr.Width())
	assert.Equal(t, []string{"blue", "green", "red"}, tr.Categories())

	rows, err := tr.Transform(raw)
	require.NoError(t, err)
	for ii, row := range rows {
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		assert.Equalf(t, 1.0, sum, "row %d must be a unit vector: %v", ii, row)
	}
	assert.Equal(t, []float64{0, 0, 1}, rows[0])

	back, err := tr.InverseTransform("color", [][]float64{{0.1, 0.7, 0.2}, {0.9, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"green", "blue"}, back.Records())

	_, err = tr.Transform(series.New([]string{"purple"}, series.String, "color"))
	require.ErrorIs(t, err, counterfactual.ErrShape)

	_, err = tr.InverseTransform("color", [][]float64{{1, 0}})
	require.ErrorIs(t, err, counterfactual.ErrShape)

	// Numeric categories are sorted numerically and decoded back to numbers.
	numeric := NewOneHot()
	require.NoError(t, numeric.Fit(series.New([]int{10, 2, 2, 33}, series.Int, "n")))
	assert.Equal(t, []string{"2", "10", "33"}, numeric.Categories())
	back, err = numeric.InverseTransform("n", [][]float64{{0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{33}, back.Float())
}

func TestOrdinal(t *testing.T) {
	raw := series.New([]string{"low", "high", "mid"}, series.String, "level")
	tr := NewOrdinal()
	require.NoError(t, tr.Fit(raw))
	assert.Equal(t, 1, tr.Width())
	rows, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}, {0}, {2}}, rows)

	back, err := tr.InverseTransform("level", [][]float64{{-3}, {1.4}, {7}})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "mid"}, back.Records())

	// Ordinal values are rounded only when decoded: constraints leave them unchanged.
	cf := tensors.FromValue([][]float32{{1.4}, {-3}, {7}})
	for _, hard := range []bool{false, true} {
		got := NewExec(graphtest.BuildTestBackend(), func(cf *Node) *Node {
			return tr.ApplyConstraints(nil, cf, hard)
		}).Call(cf)[0]
		assert.Equal(t, cf.Value(), got.Value())
	}
}

func TestTransformationErrors(t *testing.T) {
	raw := series.New([]float64{1, 2}, series.Float, "x")
	_, err := NewMinMax().Transform(raw, raw)
	require.ErrorIs(t, err, counterfactual.ErrShape)

	err = NewMinMax().Fit(series.New([]float64{}, series.Float, "x"))
	require.ErrorIs(t, err, counterfactual.ErrShape)

	_, err = NewMinMax().Transform(raw)
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}

func TestParseTransformation(t *testing.T) {
	for name, want := range map[string]Kind{
		"identity": KindIdentity,
		"min_max":  KindMinMax,
		"minmax":   KindMinMax,
		"ohe":      KindOneHot,
		"one_hot":  KindOneHot,
		"ordinal":  KindOrdinal,
	} {
		tr, err := ParseTransformation(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, tr.Kind(), name)
	}
	identity, err := ParseTransformation("identity")
	require.NoError(t, err)
	assert.True(t, identity.IsFitted())

	_, err = ParseTransformation("log")
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}

func TestTransformationConstraints(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ohe, err := NewOneHotFitted(series.New([]string{"a", "b", "c"}, series.String, "c"))
	require.NoError(t, err)

	cf := tensors.FromValue([][]float32{{0.2, 3, -1}, {5, 0, 0}})

	hard := NewExec(backend, func(cf *Node) *Node {
		return ohe.ApplyConstraints(nil, cf, true)
	}).Call(cf)[0]
	assert.Equal(t, [][]float32{{0, 1, 0}, {1, 0, 0}}, hard.Value())

	soft := NewExec(backend, func(cf *Node) *Node {
		return ohe.ApplyConstraints(nil, cf, false)
	}).Call(cf)[0]
	for _, row := range soft.Value().([][]float32) {
		assert.InDelta(t, 1.0, float64(row[0]+row[1]+row[2]), 1e-5)
	}

	reg := NewExec(backend, func(cf *Node) *Node {
		return ohe.RegLoss(nil, cf, false)
	}).Call(cf)[0]
	// Row sums are 2.2 and 5: mean of (1.2², 4²).
	assert.InDelta(t, (1.2*1.2+16)/2, float64(tensors.ToScalar[float32](reg)), 1e-4)

	minMax, err := NewMinMaxFitted(0, 1)
	require.NoError(t, err)
	clipped := NewExec(backend, func(cf *Node) *Node {
		return minMax.ApplyConstraints(nil, cf, true)
	}).Call(tensors.FromValue([][]float32{{-0.5}, {0.3}, {1.7}}))[0]
	assert.Equal(t, [][]float32{{0}, {0.3}, {1}}, clipped.Value())
}
