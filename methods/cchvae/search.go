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
	"runtime"
	"time"

	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/random"
)

// Result of the latent search of one instance.
type Result struct {
	// CF is the counterfactual shaped `[1, k]`, or the instance itself if none was found.
	CF *tensors.Tensor

	// Found is false if the search exhausted MaxSteps annuli without flipping the prediction.
	Found bool

	// Steps is the number of annuli searched.
	Steps int
}

// AnnulusRadii returns the inner and outer radii of the annulus searched at step count:
// `[stepSize·count, stepSize·(count+1)]`.
func AnnulusRadii(stepSize float64, count int) (low, high float64) {
	return stepSize * float64(count), stepSize * float64(count+1)
}

// SampleAnnulus draws numSamples points around center, shaped `[1, d]`, at an L1 distance
// uniform in [low, high], given as scalars. The directions are standard normal samples
// normalized by their L1 norm.
//
// It returns the points shaped `[numSamples, d]`. rngState is consumed.
func SampleAnnulus(rngState, center, low, high *Node, numSamples int) *Node {
	dtype := center.DType()
	d := center.Shape().Dimensions[1]
	directionState, radiusState := RngStateSplit(rngState)
	_, directions := RandomNormal(directionState, shapes.Make(dtype, numSamples, d))
	_, radii := RandomUniform(radiusState, shapes.Make(dtype, numSamples, 1))
	radii = Add(low, Mul(radii, Sub(high, low)))
	norms := ExpandAxes(ReduceSum(Abs(directions), -1), -1)
	scale := BroadcastToDims(Div(radii, norms), numSamples, d)
	return Add(BroadcastToDims(center, numSamples, d), Mul(directions, scale))
}

// encodeGraph returns the latent mean of x and its rounded prediction.
func (c *CCHVAE) encodeGraph(ctx *context.Context, x *Node) []*Node {
	muZ, _ := Encode(ctx.In(Scope), x)
	return []*Node{muZ, Round(c.predict(ctx, x))}
}

// stepGraph searches one annulus. Inputs are x, its latent mean muZ, its rounded prediction
// yPred, the annulus radii low and high, the current candidate and the random state.
// It returns the updated candidate, the next random state and whether a decoded sample
// flipped the prediction.
func (c *CCHVAE) stepGraph(ctx *context.Context, inputs []*Node) []*Node {
	x, muZ, yPred, low, high, candidate, rngState := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4], inputs[5], inputs[6]
	g := x.Graph()
	dtype := x.DType()
	n := c.config.NumSearchSamples
	k := x.Shape().Dimensions[1]

	nextState, sampleState := RngStateSplit(rngState)
	z := SampleAnnulus(sampleState, muZ, low, high, n)
	samples, _ := Decode(ctx.In(Scope), z, k)
	if c.features != nil {
		samples = c.features.ApplyConstraints(x, samples, true)
	}

	distances := ReduceSum(Abs(Sub(samples, BroadcastToDims(x, n, k))), -1)
	labels := Reshape(Round(c.predict(ctx, samples)), n)
	flips := NotEqual(labels, BroadcastToDims(Reshape(yPred), n))
	distances = Where(flips, distances, BroadcastToDims(Infinity(g, dtype, 1), n))
	closest := OneHot(ArgMin(distances, 0), n, dtype)
	best := ReduceSum(Mul(samples, BroadcastToDims(ExpandAxes(closest, -1), n, k)), 0)
	best = Reshape(best, 1, k)

	found := ReduceLogicalOr(flips)
	candidate = Where(BroadcastToDims(found, 1, k), best, candidate)
	return []*Node{candidate, nextState, found}
}

// GenerateCF implements counterfactual.Explainer: it returns the counterfactual of x, shaped
// `[1, k]`, or x itself if none was found. It uses the first key split from the seed, so
// it matches the first row of GenerateCFs.
func (c *CCHVAE) GenerateCF(x *tensors.Tensor) (*tensors.Tensor, error) {
	keys, err := c.splitter.Split(random.New(c.config.Seed), 1)
	if err != nil {
		return nil, err
	}
	result, err := c.Search(x, keys[0])
	if err != nil {
		return nil, err
	}
	return result.CF, nil
}

// Search runs the latent search of the instance x, shaped `[k]` or `[1, k]`, with the random
// key. Exhausting MaxSteps is not an error: Result.Found is false and Result.CF is x.
func (c *CCHVAE) Search(x *tensors.Tensor, key random.Key) (*Result, error) {
	if !c.IsTrained() {
		return nil, counterfactual.NewModuleNotTrainedError(Name)
	}
	x, err := counterfactual.AsInstance(x)
	if err != nil {
		return nil, err
	}
	k := x.Shape().Dimensions[1]
	if c.features != nil && k != c.features.Width() {
		return nil, counterfactual.ShapeErrorf("%s: instance has %d columns, features encode %d", Name, k, c.features.Width())
	}
	c.execs()

	start := time.Now()
	result := &Result{CF: x}
	err = exceptions.TryCatch[error](func() {
		outputs := c.encodeExec.Call(x)
		muZ, yPred := outputs[0], outputs[1]
		state := key.Tensor()
		for result.Steps < c.config.MaxSteps && !result.Found {
			low, high := AnnulusRadii(c.config.StepSize, result.Steps)
			outputs = c.stepExec.Call(x, muZ, yPred,
				counterfactual.FromFloatValues([]float64{low}, x.DType()),
				counterfactual.FromFloatValues([]float64{high}, x.DType()),
				result.CF, state)
			result.CF, state = outputs[0], outputs[1]
			result.Found = tensors.ToScalar[bool](outputs[2])
			result.Steps++
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s search failed", Name)
	}
	if klog.V(2).Enabled() {
		klog.Infof("%s: found=%v after %d steps in %s", Name, result.Found, result.Steps, time.Since(start).Round(time.Millisecond))
	}
	return result, nil
}

// GenerateCFs searches the counterfactuals of every row of x, shaped `[n, k]`, in parallel.
// Row i uses the i-th key split from the seed, so its result is the same as the one of
// Search on that row alone with that key.
//
// It returns the counterfactuals shaped `[n, k]`, with rows for which none was found equal
// to the instance, and which rows were found.
func (c *CCHVAE) GenerateCFs(x *tensors.Tensor) (cfs *tensors.Tensor, found []bool, err error) {
	if !c.IsTrained() {
		return nil, nil, counterfactual.NewModuleNotTrainedError(Name)
	}
	values, err := counterfactual.FloatValues(x)
	if err != nil {
		return nil, nil, err
	}
	if x.Rank() != 2 || x.Shape().Dimensions[0] == 0 {
		return nil, nil, counterfactual.ShapeErrorf("%s: a batch shaped [n, k] is required, got %s", Name, x.Shape())
	}
	n, k := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	keys, err := c.splitter.Split(random.New(c.config.Seed), n)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	results := make([]*Result, n)
	var bar *progressbar.ProgressBar
	if c.config.Progress {
		bar = progressbar.Default(int64(n), Name)
	}
	var group errgroup.Group
	group.SetLimit(c.parallelism())
	for ii := range n {
		group.Go(func() error {
			row := counterfactual.FromFloatValues(values[ii*k:(ii+1)*k], x.DType(), 1, k)
			result, err := c.Search(row, keys[ii])
			if err != nil {
				return errors.WithMessagef(err, "row #%d", ii)
			}
			results[ii] = result
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err = group.Wait(); err != nil {
		return nil, nil, err
	}

	flat := make([]float64, 0, n*k)
	found = make([]bool, n)
	numFound := 0
	for ii, result := range results {
		rowValues, err := counterfactual.FloatValues(result.CF)
		if err != nil {
			return nil, nil, err
		}
		flat = append(flat, rowValues...)
		found[ii] = result.Found
		if result.Found {
			numFound++
		} else {
			klog.Warningf("%s: no counterfactual found for row #%d after %d steps", Name, ii, result.Steps)
		}
	}
	klog.V(1).Infof("%s: found %d of %d counterfactuals in %s", Name, numFound, n, time.Since(start).Round(time.Millisecond))
	return counterfactual.FromFloatValues(flat, x.DType(), n, k), found, nil
}

func (c *CCHVAE) parallelism() int {
	if c.config.Parallelism > 0 {
		return c.config.Parallelism
	}
	return runtime.NumCPU()
}
