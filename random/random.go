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

// Package random implements splittable random keys on top of the graph random number
// generator state.
//
// A Key is consumed when it is used to generate values or split: it must not be used again.
// Every branch point derives fresh keys with Split, so that results only depend on the root
// seed and on the position of the branch, never on the order computations are executed.
package random

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

// Key is an immutable random state, shaped like graph.RngStateShape.
type Key struct {
	state *tensors.Tensor
}

// New creates the root key for seed.
func New(seed int64) Key {
	return Key{state: RngStateFromSeed(seed)}
}

// FromTensor wraps a random state tensor, e.g. one returned by a graph that consumed a key.
func FromTensor(state *tensors.Tensor) (Key, error) {
	if !state.Shape().Equal(RngStateShape) {
		return Key{}, errors.Errorf("random state must be shaped %s, got %s", RngStateShape, state.Shape())
	}
	return Key{state: state}, nil
}

// Tensor returns the state to be fed to a graph.
func (k Key) Tensor() *tensors.Tensor { return k.state }

// Values returns a copy of the raw state.
func (k Key) Values() []uint64 { return tensors.CopyFlatData[uint64](k.state) }

// Equal returns whether both keys hold the same state.
func (k Key) Equal(other Key) bool {
	a, b := k.Values(), other.Values()
	for ii := range a {
		if a[ii] != b[ii] {
			return false
		}
	}
	return true
}

// SplitGraph splits state into n independent children, stacked in a `[n, 3]` tensor.
// state itself is consumed.
func SplitGraph(state *Node, n int) *Node {
	children := make([]*Node, n)
	for ii := range children {
		state, children[ii] = RngStateSplit(state)
	}
	return Stack(children, 0)
}

// Splitter splits keys on a backend. It is safe for concurrent use.
type Splitter struct {
	backend backends.Backend
	mu      sync.Mutex
	execs   map[int]*Exec
}

// NewSplitter returns a Splitter that runs on backend.
func NewSplitter(backend backends.Backend) *Splitter {
	return &Splitter{backend: backend, execs: make(map[int]*Exec)}
}

// exec returns the compiled split in n keys.
func (s *Splitter) exec(n int) *Exec {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.execs[n]
	if !found {
		e = NewExec(s.backend, func(state *Node) *Node {
			return SplitGraph(state, n)
		})
		s.execs[n] = e
	}
	return e
}

// Split derives n independent keys from k. k must not be used afterward.
func (s *Splitter) Split(k Key, n int) (keys []Key, err error) {
	if n <= 0 {
		return nil, errors.Errorf("random.Split requires n > 0, got %d", n)
	}
	var stacked *tensors.Tensor
	err = exceptions.TryCatch[error](func() {
		stacked = s.exec(n).Call(k.state)[0]
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to split random key in %d", n)
	}
	flat := tensors.CopyFlatData[uint64](stacked)
	stateSize := RngStateShape.Size()
	keys = make([]Key, n)
	for ii := range keys {
		keys[ii] = Key{state: tensors.FromFlatDataAndDimensions(
			flat[ii*stateSize:(ii+1)*stateSize], RngStateShape.Dimensions...)}
	}
	return keys, nil
}
