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
	"encoding/json"
	"os"
	"path"
	"testing"

	"github.com/go-gota/gota/series"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	dir := path.Join(t.TempDir(), "features")
	l := buildTestList(t)
	require.NoError(t, l.Save(dir))
	require.FileExists(t, path.Join(dir, DataFileName))

	var treeDef TreeDef
	require.NoError(t, json.Unmarshal(must.M1(os.ReadFile(path.Join(dir, TreeDefFileName))), &treeDef))
	require.Len(t, treeDef.Features, 3)
	assert.Equal(t, "name", treeDef.Features[0][0].Key)
	assert.False(t, treeDef.Features[0][0].IsArray)

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, l.Len(), loaded.Len())
	for ii, f := range l.Features() {
		g := loaded.Features()[ii]
		assert.Equal(t, f.Name(), g.Name())
		assert.Equal(t, f.IsImmutable(), g.IsImmutable())
		assert.Equal(t, f.IsCategorical(), g.IsCategorical())
		assert.Equal(t, f.Transformation().Kind(), g.Transformation().Kind())
		assert.Equal(t, f.Raw().Records(), g.Raw().Records())
	}

	want := must.M1(l.Materialize())
	got := must.M1(loaded.Materialize())
	assert.Equal(t, want.Ranges(), got.Ranges())
	assert.Equal(t, want.Data(), got.Data())

	// The fitted state survives: new values are encoded the same way.
	job := series.New([]string{"ops"}, series.String, "job")
	assert.Equal(t,
		must.M1(l.Features()[1].Transform(job)),
		must.M1(loaded.Features()[1].Transform(job)))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(path.Join(dir, TreeDefFileName), []byte(`{"format": "other"}`), 0o644))
	_, err = Load(dir)
	require.Error(t, err)
}
