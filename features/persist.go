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
	"bufio"
	"encoding/gob"
	"encoding/json"
	"os"
	"path"
	"strconv"

	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Files written by Save in its directory.
const (
	// DataFileName holds the leaves of every feature, gob encoded one after the other.
	DataFileName = "data.bin"

	// TreeDefFileName holds the JSON description of the leaves, needed to decode DataFileName.
	TreeDefFileName = "treedef.json"

	treeDefFormat = "counterfactual.features/v1"
)

// Types of leaves stored in DataFileName.
const (
	leafString  = "string"
	leafBool    = "bool"
	leafFloat   = "float64"
	leafTensor  = "tensor"
	leafStrings = "strings"
)

// Leaf describes one stored value of a feature.
type Leaf struct {
	Key     string `json:"key"`
	IsArray bool   `json:"is_array"`
	Type    string `json:"type"`
}

// TreeDef is the content of TreeDefFileName: the leaves of each feature, in order.
type TreeDef struct {
	Format   string   `json:"format"`
	Features [][]Leaf `json:"features"`
}

// leafValue is a leaf with its value, used while saving.
type leafValue struct {
	Leaf
	value any
}

func scalarLeaf(key, leafType string, value any) leafValue {
	return leafValue{Leaf: Leaf{Key: key, Type: leafType}, value: value}
}

func arrayLeaf(key, leafType string, value any) leafValue {
	return leafValue{Leaf: Leaf{Key: key, IsArray: true, Type: leafType}, value: value}
}

// leaves returns the feature state in its fixed traversal order.
func (f *Feature) leaves() ([]leafValue, error) {
	t := f.transformation
	rawType := f.raw.Type()
	values := []leafValue{
		scalarLeaf("name", leafString, f.name),
		scalarLeaf("kind", leafString, t.kind.String()),
		scalarLeaf("immutable", leafBool, f.immutable),
		scalarLeaf("categorical", leafBool, f.categorical),
		scalarLeaf("fitted", leafBool, t.fitted),
		scalarLeaf("frozen", leafBool, t.frozen),
		scalarLeaf("min", leafFloat, t.min),
		scalarLeaf("max", leafFloat, t.max),
		scalarLeaf("numeric", leafBool, t.numeric),
		arrayLeaf("categories", leafStrings, append([]string{}, t.categories...)),
		scalarLeaf("raw_type", leafString, string(rawType)),
	}
	if isNumeric(f.raw) {
		values = append(values, arrayLeaf("raw", leafTensor,
			tensors.FromFlatDataAndDimensions(f.raw.Float(), f.raw.Len())))
	} else {
		values = append(values, arrayLeaf("raw", leafStrings, f.raw.Records()))
	}
	transformed, err := f.Transformed()
	if err != nil {
		return nil, err
	}
	values = append(values, arrayLeaf("transformed", leafTensor, RowsToTensor(transformed, f.Width(), dtypes.Float64)))
	return values, nil
}

// Save writes the features list to dir, creating it if needed: DataFileName holds every
// leaf of every feature in a fixed order, and TreeDefFileName describes them.
func (l *List) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %q to save features", dir)
	}
	dataPath := path.Join(dir, DataFileName)
	file, err := os.Create(dataPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", dataPath)
	}
	writer := bufio.NewWriter(file)
	enc := gob.NewEncoder(writer)
	treeDef := TreeDef{Format: treeDefFormat, Features: make([][]Leaf, 0, len(l.features))}
	for _, f := range l.features {
		values, err := f.leaves()
		if err != nil {
			_ = file.Close()
			return err
		}
		featureLeaves := make([]Leaf, len(values))
		for ii, v := range values {
			featureLeaves[ii] = v.Leaf
			if t, ok := v.value.(*tensors.Tensor); ok {
				err = t.GobSerialize(enc)
			} else {
				err = enc.Encode(v.value)
			}
			if err != nil {
				_ = file.Close()
				return errors.Wrapf(err, "failed to encode %q of feature %q", v.Key, f.name)
			}
		}
		treeDef.Features = append(treeDef.Features, featureLeaves)
	}
	if err = writer.Flush(); err != nil {
		_ = file.Close()
		return errors.Wrapf(err, "failed to write %q", dataPath)
	}
	if err = file.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %q", dataPath)
	}

	treeDefJSON, err := json.MarshalIndent(treeDef, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode features tree definition")
	}
	treeDefPath := path.Join(dir, TreeDefFileName)
	if err = os.WriteFile(treeDefPath, treeDefJSON, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %q", treeDefPath)
	}
	if klog.V(1).Enabled() {
		klog.Infof("saved %d features to %q", len(l.features), dir)
	}
	return nil
}

// Load reads a features list saved with List.Save.
func Load(dir string) (*List, error) {
	treeDefPath := path.Join(dir, TreeDefFileName)
	treeDefJSON, err := os.ReadFile(treeDefPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", treeDefPath)
	}
	var treeDef TreeDef
	if err = json.Unmarshal(treeDefJSON, &treeDef); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %q", treeDefPath)
	}
	if treeDef.Format != treeDefFormat {
		return nil, errors.Errorf("%q has format %q, expected %q", treeDefPath, treeDef.Format, treeDefFormat)
	}

	dataPath := path.Join(dir, DataFileName)
	file, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", dataPath)
	}
	defer func() { _ = file.Close() }()
	dec := gob.NewDecoder(bufio.NewReader(file))

	feats := make([]*Feature, 0, len(treeDef.Features))
	for featIdx, featureLeaves := range treeDef.Features {
		values := make(map[string]any, len(featureLeaves))
		for _, leaf := range featureLeaves {
			value, err := decodeLeaf(dec, leaf)
			if err != nil {
				return nil, errors.WithMessagef(err, "while loading feature #%d from %q", featIdx, dataPath)
			}
			values[leaf.Key] = value
		}
		f, err := featureFromLeaves(values)
		if err != nil {
			return nil, errors.WithMessagef(err, "while loading feature #%d from %q", featIdx, dataPath)
		}
		feats = append(feats, f)
	}
	return NewList(feats...)
}

func decodeLeaf(dec *gob.Decoder, leaf Leaf) (any, error) {
	var err error
	switch leaf.Type {
	case leafTensor:
		var t *tensors.Tensor
		t, err = tensors.GobDeserialize(dec)
		if err == nil {
			return t, nil
		}
	case leafString:
		var v string
		if err = dec.Decode(&v); err == nil {
			return v, nil
		}
	case leafBool:
		var v bool
		if err = dec.Decode(&v); err == nil {
			return v, nil
		}
	case leafFloat:
		var v float64
		if err = dec.Decode(&v); err == nil {
			return v, nil
		}
	case leafStrings:
		var v []string
		if err = dec.Decode(&v); err == nil {
			return v, nil
		}
	default:
		return nil, errors.Errorf("unknown leaf type %q for %q", leaf.Type, leaf.Key)
	}
	return nil, errors.Wrapf(err, "failed to decode leaf %q", leaf.Key)
}

// leafAs fetches a leaf by key, with the expected Go type.
func leafAs[T any](values map[string]any, key string) (T, error) {
	var zero T
	value, found := values[key]
	if !found {
		return zero, errors.Errorf("leaf %q missing", key)
	}
	typed, ok := value.(T)
	if !ok {
		return zero, errors.Errorf("leaf %q has type %T, expected %T", key, value, zero)
	}
	return typed, nil
}

func featureFromLeaves(values map[string]any) (f *Feature, err error) {
	// Collects the first error, so the fields can be read in sequence.
	var firstErr error
	check := func(err error) {
		if firstErr == nil && err != nil {
			firstErr = err
		}
	}
	getString := func(key string) string { v, err := leafAs[string](values, key); check(err); return v }
	getBool := func(key string) bool { v, err := leafAs[bool](values, key); check(err); return v }
	getFloat := func(key string) float64 { v, err := leafAs[float64](values, key); check(err); return v }

	t := &Transformation{
		fitted:  getBool("fitted"),
		frozen:  getBool("frozen"),
		min:     getFloat("min"),
		max:     getFloat("max"),
		numeric: getBool("numeric"),
	}
	t.kind, err = KindString(getString("kind"))
	check(err)
	t.categories, err = leafAs[[]string](values, "categories")
	check(err)
	f = &Feature{
		name:           getString("name"),
		transformation: t,
		immutable:      getBool("immutable"),
		categorical:    getBool("categorical"),
	}
	rawType := series.Type(getString("raw_type"))
	if firstErr != nil {
		return nil, firstErr
	}

	if t.numeric {
		t.values = make([]float64, len(t.categories))
		for ii, category := range t.categories {
			if t.values[ii], err = strconv.ParseFloat(category, 64); err != nil {
				return nil, errors.Wrapf(err, "invalid numeric category %q of feature %q", category, f.name)
			}
		}
	}

	switch raw := values["raw"].(type) {
	case *tensors.Tensor:
		f.raw = series.New(tensors.CopyFlatData[float64](raw), rawType, f.name)
	case []string:
		f.raw = series.New(raw, rawType, f.name)
	default:
		return nil, errors.Errorf("leaf \"raw\" of feature %q has invalid type %T", f.name, values["raw"])
	}

	transformedT, err := leafAs[*tensors.Tensor](values, "transformed")
	if err != nil {
		return nil, err
	}
	transformed, err := TensorToRows(transformedT)
	if err != nil {
		return nil, err
	}
	f.transformOnce.Do(func() { f.transformed = transformed })
	return f, nil
}
