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

package counterfactual

import (
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatValues(t *testing.T) {
	values, err := FloatValues(tensors.FromValue([][]float32{{1, 2}, {3, 4.5}}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4.5}, values)

	values, err = FloatValues(tensors.FromValue([]float64{0.25}))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25}, values)

	_, err = FloatValues(tensors.FromValue([]int32{1}))
	require.ErrorIs(t, err, ErrShape)

	t32 := FromFloatValues([]float64{1, 2, 3, 4}, dtypes.Float32, 2, 2)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, t32.Value())
	t64 := FromFloatValues([]float64{0.5}, dtypes.Float64)
	assert.Equal(t, 0.5, t64.Value())
}

func TestAsInstance(t *testing.T) {
	x, err := AsInstance(tensors.FromValue([]float32{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2, 3}}, x.Value())

	row := tensors.FromValue([][]float64{{1, 2}})
	x, err = AsInstance(row)
	require.NoError(t, err)
	assert.Same(t, row, x)

	_, err = AsInstance(tensors.FromValue([][]float64{{1, 2}, {3, 4}}))
	require.ErrorIs(t, err, ErrShape)
	_, err = AsInstance(tensors.FromValue([]int64{1, 2}))
	require.ErrorIs(t, err, ErrShape)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
}
