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

// Package counterfactual holds the types shared by the counterfactual explanation methods:
// the predictor and explainer contracts, the error taxonomy and the registry of losses.
//
// The methods themselves live in sub-packages: see methods/dice for DiverseCF and
// methods/cchvae for the latent space search. The features package holds the
// transformation framework that keeps encoded tabular rows consistent.
package counterfactual

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// Predictor maps a batch of encoded rows shaped `[n, k]` to scores shaped `[n, 1]`, the
// probability of the positive class, in [0, 1].
//
// The context given is the one of the search (with Reuse set): predictors backed by a
// trained model read their variables from it, analytic predictors can ignore it.
// DiverseCF differentiates through the predictor, the latent search only evaluates it.
type Predictor func(ctx *context.Context, x *graph.Node) *graph.Node

// Explainer is implemented by the counterfactual search methods.
type Explainer interface {
	// Name of the method.
	Name() string

	// GenerateCF searches counterfactuals for the instance x, shaped `[k]` or `[1, k]`.
	GenerateCF(x *tensors.Tensor) (*tensors.Tensor, error)
}

// InstanceWidth checks that shape is the one of a single instance, `[k]` or `[1, k]`, and
// returns k. Anything else is a ShapeError.
func InstanceWidth(shape shapes.Shape) (int, error) {
	switch {
	case shape.Rank() == 1:
		return shape.Dimensions[0], nil
	case shape.Rank() == 2 && shape.Dimensions[0] == 1:
		return shape.Dimensions[1], nil
	}
	return 0, ShapeErrorf("a single instance shaped [k] or [1, k] is required, got %s", shape)
}

// CheckFloat returns a ShapeError if the tensor's dtype is not a float.
func CheckFloat(t *tensors.Tensor) error {
	if dtype := t.DType(); dtype != dtypes.Float32 && dtype != dtypes.Float64 {
		return ShapeErrorf("float32 or float64 values are required, got %s", dtype)
	}
	return nil
}

// FloatValues returns the flat values of the float tensor t as float64.
func FloatValues(t *tensors.Tensor) ([]float64, error) {
	if err := CheckFloat(t); err != nil {
		return nil, err
	}
	if t.DType() == dtypes.Float64 {
		return tensors.CopyFlatData[float64](t), nil
	}
	flat := tensors.CopyFlatData[float32](t)
	values := make([]float64, len(flat))
	for ii, v := range flat {
		values[ii] = float64(v)
	}
	return values, nil
}

// FromFloatValues creates a tensor of the given float dtype and dimensions from flat values.
func FromFloatValues(values []float64, dtype dtypes.DType, dimensions ...int) *tensors.Tensor {
	if dtype == dtypes.Float64 {
		return tensors.FromFlatDataAndDimensions(values, dimensions...)
	}
	flat := make([]float32, len(values))
	for ii, v := range values {
		flat[ii] = float32(v)
	}
	return tensors.FromFlatDataAndDimensions(flat, dimensions...)
}

// AsInstance checks that the float tensor x holds a single instance, shaped `[k]` or `[1, k]`,
// and returns it shaped `[1, k]`.
func AsInstance(x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := CheckFloat(x); err != nil {
		return nil, err
	}
	k, err := InstanceWidth(x.Shape())
	if err != nil {
		return nil, err
	}
	if x.Rank() == 2 {
		return x, nil
	}
	values, _ := FloatValues(x)
	return FromFloatValues(values, x.DType(), 1, k), nil
}
