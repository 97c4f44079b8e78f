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

package random

import (
	"testing"

	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	splitter := NewSplitter(graphtest.BuildTestBackend())

	keys, err := splitter.Split(New(42), 4)
	require.NoError(t, err)
	require.Len(t, keys, 4)
	for ii := range keys {
		for jj := ii + 1; jj < len(keys); jj++ {
			assert.Falsef(t, keys[ii].Equal(keys[jj]), "keys #%d and #%d should differ", ii, jj)
		}
	}

	// Same seed, same keys: splitting only depends on the root state.
	again, err := splitter.Split(New(42), 4)
	require.NoError(t, err)
	for ii := range keys {
		assert.True(t, keys[ii].Equal(again[ii]))
	}

	// Fewer keys yield a prefix of the same sequence.
	prefix, err := splitter.Split(New(42), 2)
	require.NoError(t, err)
	assert.True(t, keys[0].Equal(prefix[0]))
	assert.True(t, keys[1].Equal(prefix[1]))

	other, err := splitter.Split(New(43), 1)
	require.NoError(t, err)
	assert.False(t, keys[0].Equal(other[0]))

	_, err = splitter.Split(New(42), 0)
	require.Error(t, err)
}

func TestFromTensor(t *testing.T) {
	k := New(7)
	k2, err := FromTensor(k.Tensor())
	require.NoError(t, err)
	assert.True(t, k.Equal(k2))
	assert.Len(t, k.Values(), 3)
}
