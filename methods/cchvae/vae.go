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
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

// Scope of the VAE variables and hyperparameters in the context.
const Scope = "cchvae"

// Hyperparameters of the VAE, set in the context by New from the Config.
const (
	// ParamEncSizes is the list of hidden layer sizes of the encoder.
	ParamEncSizes = "cchvae_enc_sizes"

	// ParamDecSizes is the list of hidden layer sizes of the decoder.
	ParamDecSizes = "cchvae_dec_sizes"

	// ParamEncodedSize is the dimension of the latent space.
	ParamEncodedSize = "cchvae_encoded_size"

	// ParamDropout is the dropout rate of the MLPs, only applied while training.
	ParamDropout = "cchvae_dropout"
)

// setParams writes the VAE hyperparameters of cfg in the VAE scope of ctx.
func setParams(ctx *context.Context, cfg Config) {
	ctx = ctx.In(Scope)
	ctx.SetParam(ParamEncSizes, cfg.EncSizes)
	ctx.SetParam(ParamDecSizes, cfg.DecSizes)
	ctx.SetParam(ParamEncodedSize, cfg.EncodedSize)
	ctx.SetParam(ParamDropout, cfg.Dropout)
}

// mlp applies dense layers of the given sizes, each followed by a leaky ReLU and dropout.
func mlp(ctx *context.Context, x *Node, sizes []int) *Node {
	dropout := context.GetParamOr(ctx, ParamDropout, 0.0)
	for ii, size := range sizes {
		layerCtx := ctx.In(fmt.Sprintf("layer_%d", ii))
		x = layers.DenseWithBias(layerCtx, x, size)
		x = activations.LeakyRelu(x)
		if dropout > 0 {
			x = layers.DropoutStatic(layerCtx, x, dropout)
		}
	}
	return x
}

// Encode returns the mean and log-variance of the latent distribution of x, shaped `[n, k]`.
// ctx must be scoped in Scope.
func Encode(ctx *context.Context, x *Node) (mu, logVar *Node) {
	ctx = ctx.In("encoder")
	encodedSize := context.GetParamOr(ctx, ParamEncodedSize, 5)
	hidden := mlp(ctx.In("mlp"), x, context.GetParamOr(ctx, ParamEncSizes, []int{20, 16, 14, 12}))
	mu = layers.DenseWithBias(ctx.In("mu_z"), hidden, encodedSize)
	logVar = layers.DenseWithBias(ctx.In("logvar_z"), hidden, encodedSize)
	return
}

// Decode returns the mean and log-variance of the reconstruction of the latent points z,
// shaped `[n, width]`. ctx must be scoped in Scope.
func Decode(ctx *context.Context, z *Node, width int) (mu, logVar *Node) {
	ctx = ctx.In("decoder")
	hidden := mlp(ctx.In("mlp"), z, context.GetParamOr(ctx, ParamDecSizes, []int{12, 14, 16, 20}))
	mu = layers.DenseWithBias(ctx.In("mu_x"), hidden, width)
	logVar = layers.DenseWithBias(ctx.In("logvar_x"), hidden, width)
	return
}

// Reparameterize samples `mu + ε·exp(logVar/2)` with ε from a standard normal, using the
// random state of the context.
func Reparameterize(ctx *context.Context, mu, logVar *Node) *Node {
	eps := ctx.RandomNormal(mu.Graph(), mu.Shape())
	return Add(mu, Mul(eps, Exp(MulScalar(logVar, 0.5))))
}

// ModelGraph is the VAE forward pass used for training, with the signature of a train.ModelFn.
// It returns the reconstruction mean, the latent mean and the latent log-variance.
func ModelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	ctx = ctx.In(Scope)
	x := inputs[0]
	muZ, logVarZ := Encode(ctx, x)
	z := Reparameterize(ctx, muZ, logVarZ)
	muX, _ := Decode(ctx, z, x.Shape().Dimensions[1])
	return []*Node{muX, muZ, logVarZ}
}

// LossGraph is the VAE loss, with the signature of a train.LossFn: the mean of the squared
// reconstruction error halved, plus the KL divergence of the latent distribution from a
// standard normal, summed over the batch.
func LossGraph(labels, predictions []*Node) *Node {
	x := labels[0]
	muX, muZ, logVarZ := predictions[0], predictions[1], predictions[2]
	reconstruction := ReduceAllMean(MulScalar(Square(Sub(muX, x)), 0.5))
	kl := MulScalar(ReduceAllSum(Sub(Sub(OnePlus(logVarZ), Square(muZ)), Exp(logVarZ))), -0.5)
	return Add(reconstruction, kl)
}
