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

// Package dice implements DiverseCF: a batch of counterfactual candidates is optimized
// jointly by gradient descent on a loss that rewards flipping the prediction, staying
// close to the instance and spreading the candidates apart (a determinantal point process
// style diversity term).
package dice

import (
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/features"
	"github.com/gomlx/counterfactual/random"
)

// Name of the method, returned by DiverseCF.Name.
const Name = "DiverseCF"

// Adam hyperparameters, other than the learning rate.
const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// DiverseCF searches a diverse set of counterfactuals by gradient descent.
//
// It is safe for concurrent use: each search owns its candidates and optimizer state.
type DiverseCF struct {
	config    Config
	backend   backends.Backend
	ctx       *context.Context
	predictor counterfactual.Predictor
	features  *features.Materialized

	validity, cost counterfactual.Loss

	initMu      sync.Mutex
	initExecs   map[initKey]*Exec
	targetExec  *context.Exec
	stepExec    *context.Exec
	projectExec *Exec
}

// Result of one DiverseCF search.
type Result struct {
	// CFs holds the candidates after hard projection, shaped `[NumCFs, k]`.
	CFs *tensors.Tensor

	// Target is the label the search optimized for, shaped `[1, 1]`.
	Target *tensors.Tensor

	// LossHistory holds the loss of each optimization step.
	LossHistory []float64
}

// New creates a DiverseCF for the predictor.
//
// ctx holds the predictor's variables, if any; it can be nil for predictors without variables.
// feats provides the constraints and regularization of the encoded columns; if nil the
// candidates are unconstrained.
func New(backend backends.Backend, ctx *context.Context, predictor counterfactual.Predictor,
	feats *features.Materialized, cfg Config) (*DiverseCF, error) {
	if predictor == nil {
		return nil, counterfactual.ConstructionErrorf("%s requires a predictor", Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	validity, err := counterfactual.LossByName(cfg.ValidityFn)
	if err != nil {
		return nil, errors.WithMessage(err, "validity_fn")
	}
	cost, err := counterfactual.LossByName(cfg.CostFn)
	if err != nil {
		return nil, errors.WithMessage(err, "cost_fn")
	}
	if ctx == nil {
		ctx = context.New()
	}
	d := &DiverseCF{
		config:    cfg,
		backend:   backend,
		ctx:       ctx.Reuse(),
		predictor: predictor,
		features:  feats,
		validity:  validity,
		cost:      cost,
	}
	d.initExecs = make(map[initKey]*Exec)
	d.targetExec = context.NewExec(backend, d.ctx, d.targetGraph)
	d.stepExec = context.NewExec(backend, d.ctx, d.stepGraph)
	switch {
	case feats == nil:
	case feats.HasImmutable():
		d.projectExec = NewExec(backend, func(x, cfs *Node) *Node {
			return feats.ApplyConstraints(x, cfs, true)
		})
	default:
		d.projectExec = NewExec(backend, func(cfs *Node) *Node {
			return feats.ApplyConstraints(nil, cfs, true)
		})
	}
	return d, nil
}

// Name implements counterfactual.Explainer.
func (d *DiverseCF) Name() string { return Name }

// Config returns the configuration of the search.
func (d *DiverseCF) Config() Config { return d.config }

// GenerateCF implements counterfactual.Explainer: it returns the NumCFs candidates for the
// instance x, flipping its predicted label. See Search.
func (d *DiverseCF) GenerateCF(x *tensors.Tensor) (*tensors.Tensor, error) {
	result, err := d.Search(x, nil)
	if err != nil {
		return nil, err
	}
	return result.CFs, nil
}

// Search optimizes NumCFs candidates for the instance x, shaped `[k]` or `[1, k]`, towards
// the label yTarget. If yTarget is nil, the complement of the rounded prediction of x is used.
//
// The number of steps is fixed: validity of the returned candidates is not guaranteed, the
// caller should check their predictions.
func (d *DiverseCF) Search(x, yTarget *tensors.Tensor) (*Result, error) {
	x, err := counterfactual.AsInstance(x)
	if err != nil {
		return nil, err
	}
	k := x.Shape().Dimensions[1]
	if d.features != nil && k != d.features.Width() {
		return nil, counterfactual.ShapeErrorf("%s: instance has %d columns, features encode %d", Name, k, d.features.Width())
	}
	dtype := x.DType()
	if yTarget != nil {
		values, err := counterfactual.FloatValues(yTarget)
		if err != nil {
			return nil, err
		}
		if len(values) != 1 {
			return nil, counterfactual.ShapeErrorf("%s: a single target label is required, got shape %s", Name, yTarget.Shape())
		}
		yTarget = counterfactual.FromFloatValues(values, dtype, 1, 1)
	}

	start := time.Now()
	result := &Result{LossHistory: make([]float64, 0, d.config.NumSteps)}
	err = exceptions.TryCatch[error](func() {
		if yTarget == nil {
			yTarget = d.targetExec.Call(x)[0]
		}
		result.Target = yTarget
		cfs := d.initExec(k, dtype).Call(random.New(d.config.Seed).Tensor())[0]
		moment1 := tensors.FromShape(cfs.Shape())
		moment2 := tensors.FromShape(cfs.Shape())
		step := tensors.FromShape(shapes.Make(dtype))

		var bar *progressbar.ProgressBar
		if d.config.Progress {
			bar = progressbar.Default(int64(d.config.NumSteps), Name)
		}
		for range d.config.NumSteps {
			outputs := d.stepExec.Call(x, yTarget, cfs, moment1, moment2, step)
			cfs, moment1, moment2, step = outputs[0], outputs[1], outputs[2], outputs[3]
			result.LossHistory = append(result.LossHistory, scalarValue(outputs[4]))
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
		result.CFs = d.project(x, cfs)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s search failed", Name)
	}
	if klog.V(1).Enabled() {
		finalLoss := 0.0
		if len(result.LossHistory) > 0 {
			finalLoss = result.LossHistory[len(result.LossHistory)-1]
		}
		klog.Infof("%s: %d candidates, %d steps in %s, final loss %.4g", Name, d.config.NumCFs, d.config.NumSteps,
			time.Since(start).Round(time.Millisecond), finalLoss)
	}
	return result, nil
}

func scalarValue(t *tensors.Tensor) float64 {
	if t.DType() == dtypes.Float64 {
		return tensors.ToScalar[float64](t)
	}
	return float64(tensors.ToScalar[float32](t))
}

type initKey struct {
	k     int
	dtype dtypes.DType
}

// initExec returns the compiled draw of NumCFs initial candidates of width k from a
// standard normal distribution.
func (d *DiverseCF) initExec(k int, dtype dtypes.DType) *Exec {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	key := initKey{k, dtype}
	e, found := d.initExecs[key]
	if !found {
		e = NewExec(d.backend, func(rngState *Node) *Node {
			_, cfs := RandomNormal(rngState, shapes.Make(dtype, d.config.NumCFs, k))
			return cfs
		})
		d.initExecs[key] = e
	}
	return e
}

// targetGraph returns the complement of the rounded prediction of x.
func (d *DiverseCF) targetGraph(ctx *context.Context, x *Node) *Node {
	return OneMinus(Round(d.predict(ctx, x)))
}

// predict calls the predictor and checks its output shape.
func (d *DiverseCF) predict(ctx *context.Context, x *Node) *Node {
	predictions := d.predictor(ctx, x)
	n := x.Shape().Dimensions[0]
	if predictions.Rank() != 2 || predictions.Shape().Dimensions[0] != n || predictions.Shape().Dimensions[1] != 1 {
		exceptions.Panicf("predictor must return shape [%d, 1] for input %s, got %s", n, x.Shape(), predictions.Shape())
	}
	return predictions
}

// LossGraph returns the scalar loss of the candidates cfs for the instance x, shaped `[1, k]`,
// and the target label yTarget, shaped `[1, 1]`:
//
//	λ1·validity(yTarget, pred(cfs)) + λ2·cost(x, cfs) − λ3·diversity(cfs) + λ4·reg(x, cfs)
func (d *DiverseCF) LossGraph(ctx *context.Context, x, yTarget, cfs *Node) *Node {
	predictions := d.predict(ctx, cfs)
	validity := d.validity(BroadcastToShape(yTarget, predictions.Shape()), predictions)
	cost := d.cost(BroadcastToShape(x, cfs.Shape()), cfs)
	diversity := Diversity(cfs)
	reg := ScalarZero(cfs.Graph(), cfs.DType())
	if d.features != nil {
		reg = d.features.RegLoss(x, cfs, false)
	}
	loss := MulScalar(validity, d.config.Lambda1)
	loss = Add(loss, MulScalar(cost, d.config.Lambda2))
	loss = Sub(loss, MulScalar(diversity, d.config.Lambda3))
	return Add(loss, MulScalar(reg, d.config.Lambda4))
}

// stepGraph takes one Adam step on the candidates. Inputs are x, yTarget, cfs, the first and
// second moments and the step count; it returns the updated cfs, moments and step count,
// and the loss before the update.
func (d *DiverseCF) stepGraph(ctx *context.Context, inputs []*Node) []*Node {
	x, yTarget, cfs, moment1, moment2, step := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4], inputs[5]
	g := cfs.Graph()
	dtype := cfs.DType()
	loss := d.LossGraph(ctx, x, yTarget, cfs)
	grad := Gradient(loss, cfs)[0]

	beta1 := Scalar(g, dtype, adamBeta1)
	beta2 := Scalar(g, dtype, adamBeta2)
	step = OnePlus(step)
	moment1 = Add(Mul(beta1, moment1), Mul(OneMinus(beta1), grad))
	moment2 = Add(Mul(beta2, moment2), Mul(OneMinus(beta2), Square(grad)))
	debiasedMoment1 := Mul(moment1, Inverse(OneMinus(Pow(beta1, step))))
	debiasedMoment2 := Mul(moment2, Inverse(OneMinus(Pow(beta2, step))))
	direction := Div(debiasedMoment1, AddScalar(Sqrt(debiasedMoment2), adamEpsilon))
	cfs = Sub(cfs, MulScalar(direction, d.config.LearningRate))
	return []*Node{cfs, moment1, moment2, step, loss}
}

// project applies the hard constraints of the features to the candidates. The instance x is
// only fed when immutable features read it.
func (d *DiverseCF) project(x, cfs *tensors.Tensor) *tensors.Tensor {
	switch {
	case d.projectExec == nil:
		return cfs
	case d.features.HasImmutable():
		return d.projectExec.Call(x, cfs)[0]
	default:
		return d.projectExec.Call(cfs)[0]
	}
}
