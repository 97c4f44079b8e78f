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
	"maps"
	"slices"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/pkg/errors"
)

// Loss compares labels and predictions of the same shape and returns a scalar: the mean
// over rows of a per-row loss.
type Loss func(labels, predictions *Node) *Node

// klEpsilon is the clipping used for probabilities in KLDivergence.
const klEpsilon = 1e-7

// KLDivergence returns the mean over rows of the Kullback-Leibler divergence between
// labels and predictions, both probabilities on the last axis.
//
// If the last axis has dimension 1, labels and predictions are taken as the probability
// of the positive class of a binary classifier, and the divergence is taken over both classes.
func KLDivergence(labels, predictions *Node) *Node {
	klTerm := func(p, q *Node) *Node {
		p = ClipScalar(p, klEpsilon, 1)
		q = ClipScalar(q, klEpsilon, 1)
		return Mul(p, Log(Div(p, q)))
	}
	kl := klTerm(labels, predictions)
	if predictions.Shape().Dimensions[predictions.Rank()-1] == 1 {
		kl = Add(kl, klTerm(OneMinus(labels), OneMinus(predictions)))
	}
	return ReduceAllMean(ReduceSum(kl, -1))
}

func adaptLoss(fn func(labels, predictions []*Node) *Node) Loss {
	return func(labels, predictions *Node) *Node {
		return fn([]*Node{labels}, []*Node{predictions})
	}
}

var knownLosses = map[string]Loss{
	"KLDivergence":       KLDivergence,
	"MeanSquaredError":   adaptLoss(losses.MeanSquaredError),
	"MeanAbsoluteError":  adaptLoss(losses.MeanAbsoluteError),
	"BinaryCrossentropy": adaptLoss(losses.BinaryCrossentropy),
}

// KnownLosses returns the sorted names of the losses accepted by LossByName.
func KnownLosses() []string {
	return slices.Sorted(maps.Keys(knownLosses))
}

// LossByName returns the registered loss with the given name, or an UnsupportedLossError.
func LossByName(name string) (Loss, error) {
	fn, found := knownLosses[name]
	if !found {
		return nil, errors.WithStack(&UnsupportedLossError{Name: name})
	}
	return fn, nil
}
