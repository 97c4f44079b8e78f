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

// Package cchvae implements C-CHVAE: a variational autoencoder is trained on the encoded
// data, and counterfactuals are searched in its latent space, in annuli of growing radius
// around the encoding of the instance, until a decoded sample flips the prediction.
package cchvae

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/features"
	"github.com/gomlx/counterfactual/random"
)

// Name of the method, returned by CCHVAE.Name.
const Name = "C-CHVAE"

// CCHVAE searches counterfactuals in the latent space of a VAE.
//
// The VAE variables live under Scope in the same context as the predictor's variables. It
// must be trained (Train) or loaded (Load) before searching. Searches are safe for
// concurrent use, but not concurrently with Train or Load.
type CCHVAE struct {
	config    Config
	backend   backends.Backend
	ctx       *context.Context
	predictor counterfactual.Predictor
	features  *features.Materialized
	splitter  *random.Splitter

	trained atomic.Bool

	execsOnce            sync.Once
	encodeExec, stepExec *context.Exec
}

// New creates a C-CHVAE for the predictor.
//
// ctx holds the predictor's variables, if any, and will hold the VAE's: if nil a new one
// is created. If ctx already holds VAE variables (e.g. restored by a checkpoint) the module
// is considered trained. feats provides the hard constraints applied to decoded samples;
// if nil they are left unconstrained.
func New(backend backends.Backend, ctx *context.Context, predictor counterfactual.Predictor,
	feats *features.Materialized, cfg Config) (*CCHVAE, error) {
	if predictor == nil {
		return nil, counterfactual.ConstructionErrorf("%s requires a predictor", Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.New()
	}
	setParams(ctx, cfg)
	c := &CCHVAE{
		config:    cfg,
		backend:   backend,
		ctx:       ctx,
		predictor: predictor,
		features:  feats,
		splitter:  random.NewSplitter(backend),
	}
	c.trained.Store(hasVAEVariables(ctx))
	return c, nil
}

// hasVAEVariables returns whether ctx holds variables under Scope.
func hasVAEVariables(ctx *context.Context) bool {
	prefix := context.ScopeSeparator + Scope
	found := false
	ctx.EnumerateVariables(func(v *context.Variable) {
		if scope := v.Scope(); scope == prefix || strings.HasPrefix(scope, prefix+context.ScopeSeparator) {
			found = true
		}
	})
	return found
}

// Name implements counterfactual.Explainer.
func (c *CCHVAE) Name() string { return Name }

// Config returns the configuration of the search.
func (c *CCHVAE) Config() Config { return c.config }

// Context returns the context holding the predictor and the VAE variables.
func (c *CCHVAE) Context() *context.Context { return c.ctx }

// IsTrained returns whether the VAE parameters are available.
func (c *CCHVAE) IsTrained() bool { return c.trained.Load() }

// Train fits the VAE on the encoded rows x, shaped `[n, k]`, with the Adam optimizer.
func (c *CCHVAE) Train(x *tensors.Tensor, tcfg TrainConfig) error {
	if err := tcfg.Validate(); err != nil {
		return err
	}
	if err := counterfactual.CheckFloat(x); err != nil {
		return err
	}
	if x.Rank() != 2 {
		return counterfactual.ShapeErrorf("%s training data must be shaped [n, k], got %s", Name, x.Shape())
	}
	if c.features != nil && x.Shape().Dimensions[1] != c.features.Width() {
		return counterfactual.ShapeErrorf("%s training data has %d columns, features encode %d",
			Name, x.Shape().Dimensions[1], c.features.Width())
	}

	ds, err := data.InMemoryFromData(c.backend, Name+" training data", []any{x}, []any{x})
	if err != nil {
		return errors.WithMessagef(err, "failed to create %s training dataset", Name)
	}
	ds.BatchSize(tcfg.BatchSize, false).Shuffle()

	c.ctx.RngStateFromSeed(c.config.Seed)
	trainer := train.NewTrainer(c.backend, c.ctx, ModelGraph, LossGraph,
		optimizers.Adam().LearningRate(c.config.LearningRate).Done(),
		nil, // trainMetrics
		nil) // evalMetrics
	loop := train.NewLoop(trainer)
	if tcfg.Progress {
		commandline.AttachProgressBar(loop)
	}
	metrics, err := loop.RunEpochs(ds, tcfg.Epochs)
	if err != nil {
		return errors.WithMessagef(err, "failed to train %s", Name)
	}
	c.trained.Store(true)
	if klog.V(1).Enabled() && len(metrics) > 0 {
		klog.Infof("%s: trained %d epochs on %d rows, final loss %v", Name, tcfg.Epochs, x.Shape().Dimensions[0], metrics[0])
	}
	return nil
}

// Save writes a checkpoint of the context, including the VAE variables, to dir.
func (c *CCHVAE) Save(dir string) error {
	if !c.IsTrained() {
		return counterfactual.NewModuleNotTrainedError(Name)
	}
	checkpoint, err := checkpoints.Build(c.ctx).Dir(dir).Keep(1).Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to create %s checkpoint in %q", Name, dir)
	}
	if err = checkpoint.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save %s checkpoint in %q", Name, dir)
	}
	klog.V(1).Infof("%s: saved checkpoint in %q", Name, dir)
	return nil
}

// Load restores the VAE variables from the latest checkpoint in dir, written by Save.
// A directory without VAE variables is a counterfactual.ModuleNotTrainedError.
func (c *CCHVAE) Load(dir string) error {
	checkpoint, err := checkpoints.Build(c.ctx).Dir(dir).Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to load %s checkpoint from %q", Name, dir)
	}
	// The configuration given to New takes precedence over the saved hyperparameters.
	setParams(c.ctx, c.config)
	prefix := context.VariableParameterPrefix + context.ScopeSeparator + Scope + context.ScopeSeparator
	for key := range checkpoint.LoadedVariables() {
		if strings.HasPrefix(key, prefix) {
			c.trained.Store(true)
			klog.V(1).Infof("%s: loaded checkpoint from %q", Name, dir)
			return nil
		}
	}
	return errors.WithMessagef(counterfactual.NewModuleNotTrainedError(Name), "no %s variables in %q", Name, dir)
}

// execs compiles, once, the graphs used by the search.
func (c *CCHVAE) execs() {
	c.execsOnce.Do(func() {
		searchCtx := c.ctx.Reuse()
		c.encodeExec = context.NewExec(c.backend, searchCtx, c.encodeGraph)
		c.stepExec = context.NewExec(c.backend, searchCtx, c.stepGraph)
	})
}

// predict calls the predictor and checks its output shape.
func (c *CCHVAE) predict(ctx *context.Context, x *Node) *Node {
	predictions := c.predictor(ctx, x)
	n := x.Shape().Dimensions[0]
	if predictions.Rank() != 2 || predictions.Shape().Dimensions[0] != n || predictions.Shape().Dimensions[1] != 1 {
		exceptions.Panicf("predictor must return shape [%d, 1] for input %s, got %s", n, x.Shape(), predictions.Shape())
	}
	return predictions
}
