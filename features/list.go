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
	"fmt"
	"sync"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"k8s.io/klog/v2"

	"github.com/gomlx/counterfactual"
)

// List is an ordered list of features. The order defines the column layout of the
// encoded vectors.
//
// A List is unmaterialized when created: call Materialize to compute its column ranges
// and its encoded data.
type List struct {
	features []*Feature

	mu           sync.Mutex
	materialized *Materialized
}

// NewList creates a List with the given features, in order. Feature names must be unique.
func NewList(feats ...*Feature) (*List, error) {
	seen := make(map[string]bool, len(feats))
	for ii, f := range feats {
		if f == nil {
			return nil, counterfactual.ConstructionErrorf("feature #%d is nil", ii)
		}
		if seen[f.name] {
			return nil, counterfactual.ConstructionErrorf("feature %q given more than once", f.name)
		}
		seen[f.name] = true
	}
	return &List{features: append([]*Feature(nil), feats...)}, nil
}

// Len returns the number of features.
func (l *List) Len() int { return len(l.features) }

// Features returns the features in order. They must not be modified.
func (l *List) Features() []*Feature { return append([]*Feature(nil), l.features...) }

// Clone returns a copy of the list. If l is already materialized, the copy shares its
// Materialized value.
func (l *List) Clone() *List {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &List{features: append([]*Feature(nil), l.features...), materialized: l.materialized}
}

// Materialize computes the column ranges of the features and the concatenated encoded data.
// It is idempotent: later calls return the same value.
func (l *List) Materialize() (*Materialized, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.materialized != nil && len(l.materialized.ranges) == len(l.features) {
		return l.materialized, nil
	}
	m, err := materialize(l.features)
	if err != nil {
		return nil, err
	}
	l.materialized = m
	return m, nil
}

// Range of the encoded columns of one feature: columns [Start, End) of the encoded vector.
// Position is the index of the feature in the list.
type Range struct {
	Position, Start, End int
}

// Width of the range.
func (r Range) Width() int { return r.End - r.Start }

// Materialized is a List with its column layout and its encoded data computed. It is
// immutable and safe for concurrent use.
type Materialized struct {
	features []*Feature
	ranges   []Range
	index    map[string]int
	width    int
	numRows  int
	data     [][]float64
}

func materialize(feats []*Feature) (*Materialized, error) {
	m := &Materialized{
		features: feats,
		ranges:   make([]Range, len(feats)),
		index:    make(map[string]int, len(feats)),
	}
	blocks := make([][][]float64, len(feats))
	for ii, f := range feats {
		if ii == 0 {
			m.numRows = f.NumRows()
		} else if f.NumRows() != m.numRows {
			return nil, counterfactual.ShapeErrorf("feature %q has %d rows, but feature %q has %d rows",
				f.name, f.NumRows(), feats[0].name, m.numRows)
		}
		block, err := f.Transformed()
		if err != nil {
			return nil, err
		}
		blocks[ii] = block
		m.ranges[ii] = Range{Position: ii, Start: m.width, End: m.width + f.Width()}
		m.index[f.name] = ii
		m.width += f.Width()
	}
	m.data = concatenate(blocks, m.numRows, m.width)
	if klog.V(2).Enabled() {
		klog.Infof("features list materialized: %d features, %d rows, %d encoded columns", len(feats), m.numRows, m.width)
	}
	return m, nil
}

// concatenate the blocks of each feature into rows of the full width.
func concatenate(blocks [][][]float64, numRows, width int) [][]float64 {
	rows := make([][]float64, numRows)
	for rowIdx := range rows {
		row := make([]float64, 0, width)
		for _, block := range blocks {
			row = append(row, block[rowIdx]...)
		}
		rows[rowIdx] = row
	}
	return rows
}

// Len returns the number of features.
func (m *Materialized) Len() int { return len(m.features) }

// Features returns the features in order. They must not be modified.
func (m *Materialized) Features() []*Feature { return append([]*Feature(nil), m.features...) }

// Names returns the feature names in order.
func (m *Materialized) Names() []string {
	names := make([]string, len(m.features))
	for ii, f := range m.features {
		names[ii] = f.name
	}
	return names
}

// Width is the total number of encoded columns.
func (m *Materialized) Width() int { return m.width }

// NumRows is the number of rows of the raw data.
func (m *Materialized) NumRows() int { return m.numRows }

// Ranges returns the column ranges of the features, in order.
func (m *Materialized) Ranges() []Range { return append([]Range(nil), m.ranges...) }

// Range returns the column range of the named feature, or an UnknownFeatureError.
func (m *Materialized) Range(name string) (Range, error) {
	idx, found := m.index[name]
	if !found {
		return Range{}, counterfactual.NewUnknownFeatureError(name)
	}
	return m.ranges[idx], nil
}

// Data returns the encoded raw data, shaped `[NumRows, Width]`. It must not be modified.
func (m *Materialized) Data() [][]float64 { return m.data }

// Tensor returns the encoded raw data as a tensor of the given float dtype.
func (m *Materialized) Tensor(dtype dtypes.DType) *tensors.Tensor {
	return RowsToTensor(m.data, m.width, dtype)
}

// RowsToTensor converts rows of the given width to a `[len(rows), width]` tensor of dtype
// Float32 or Float64.
func RowsToTensor(rows [][]float64, width int, dtype dtypes.DType) *tensors.Tensor {
	if dtype == dtypes.Float64 {
		return tensors.FromFlatDataAndDimensions(flatten[float64](rows, width), len(rows), width)
	}
	return tensors.FromFlatDataAndDimensions(flatten[float32](rows, width), len(rows), width)
}

func flatten[T constraints.Float](rows [][]float64, width int) []T {
	flat := make([]T, 0, len(rows)*width)
	for _, row := range rows {
		for _, v := range row {
			flat = append(flat, T(v))
		}
	}
	return flat
}

// TensorToRows converts a float tensor shaped `[n, k]` to rows.
func TensorToRows(t *tensors.Tensor) ([][]float64, error) {
	flat, err := counterfactual.FloatValues(t)
	if err != nil {
		return nil, err
	}
	if t.Rank() != 2 {
		return nil, counterfactual.ShapeErrorf("rows tensor must be shaped [n, k], got %s", t.Shape())
	}
	numRows, width := t.Shape().Dimensions[0], t.Shape().Dimensions[1]
	rows := make([][]float64, numRows)
	for ii := range rows {
		rows[ii] = flat[ii*width : (ii+1)*width : (ii+1)*width]
	}
	return rows, nil
}

// Transform encodes raw columns given by feature name. Every feature of the list must be
// given, with the same number of rows, and every name must be known.
func (m *Materialized) Transform(columns map[string]series.Series) ([][]float64, error) {
	for name := range columns {
		if _, found := m.index[name]; !found {
			return nil, counterfactual.NewUnknownFeatureError(name)
		}
	}
	blocks := make([][][]float64, len(m.features))
	numRows := -1
	for ii, f := range m.features {
		raw, found := columns[f.name]
		if !found {
			return nil, counterfactual.ShapeErrorf("feature %q missing from the data to transform", f.name)
		}
		if numRows == -1 {
			numRows = raw.Len()
		} else if raw.Len() != numRows {
			return nil, counterfactual.ShapeErrorf("feature %q has %d rows, %d were expected", f.name, raw.Len(), numRows)
		}
		block, err := f.Transform(raw)
		if err != nil {
			return nil, err
		}
		blocks[ii] = block
	}
	return concatenate(blocks, max(numRows, 0), m.width), nil
}

// TransformDataFrame encodes the columns of df, all of which must be features of the list.
func (m *Materialized) TransformDataFrame(df dataframe.DataFrame) ([][]float64, error) {
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "invalid data frame to transform")
	}
	columns := make(map[string]series.Series, df.Ncol())
	for _, name := range df.Names() {
		columns[name] = df.Col(name)
	}
	return m.Transform(columns)
}

// InverseTransform decodes encoded rows back to raw columns, by feature name.
func (m *Materialized) InverseTransform(rows [][]float64) (map[string]series.Series, error) {
	for ii, row := range rows {
		if len(row) != m.width {
			return nil, counterfactual.ShapeErrorf("encoded rows must have width %d, row %d has width %d", m.width, ii, len(row))
		}
	}
	columns := make(map[string]series.Series, len(m.features))
	for ii, f := range m.features {
		r := m.ranges[ii]
		block := make([][]float64, len(rows))
		for rowIdx, row := range rows {
			block[rowIdx] = row[r.Start:r.End]
		}
		raw, err := f.InverseTransform(block)
		if err != nil {
			return nil, err
		}
		columns[f.name] = raw
	}
	return columns, nil
}

// DataFrame decodes encoded rows into a data frame with one column per feature, in order.
func (m *Materialized) DataFrame(rows [][]float64) (dataframe.DataFrame, error) {
	columns, err := m.InverseTransform(rows)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	ordered := make([]series.Series, len(m.features))
	for ii, f := range m.features {
		ordered[ii] = columns[f.name]
	}
	df := dataframe.New(ordered...)
	if df.Err != nil {
		return dataframe.DataFrame{}, errors.Wrap(df.Err, "failed to build data frame of decoded rows")
	}
	return df, nil
}

// forEachBlock slices cf, shaped `[_, Width]`, into the columns of each feature and calls fn.
// x is only sliced for immutable features, the other blocks get a nil xBlock: x can be nil
// if no feature is immutable.
func (m *Materialized) forEachBlock(x, cf *Node, fn func(f *Feature, xBlock, cfBlock *Node)) {
	if cf.Rank() != 2 || cf.Shape().Dimensions[1] != m.width {
		exceptions.Panicf("features: cf must be shaped [n, %d], got %s", m.width, cf.Shape())
	}
	if x == nil {
		if m.HasImmutable() {
			exceptions.Panicf("features: the original x is required to constrain immutable features")
		}
	} else if x.Rank() != 2 || x.Shape().Dimensions[1] != m.width {
		exceptions.Panicf("features: x must be shaped [n, %d], got %s", m.width, x.Shape())
	}
	for ii, f := range m.features {
		r := m.ranges[ii]
		var xBlock *Node
		if f.immutable {
			xBlock = Slice(x, AxisRange(), AxisRange(r.Start, r.End))
		}
		fn(f, xBlock, Slice(cf, AxisRange(), AxisRange(r.Start, r.End)))
	}
}

// HasImmutable returns whether any feature is immutable, that is, whether ApplyConstraints
// reads the original instance.
func (m *Materialized) HasImmutable() bool {
	for _, f := range m.features {
		if f.immutable {
			return true
		}
	}
	return false
}

// ApplyConstraints projects the candidates cf, shaped `[n, Width]`, to valid encoded values,
// feature by feature. Immutable features take the values of x, shaped `[1, Width]` or
// `[n, Width]`, regardless of cf and of hard. x can be nil if there are no immutable features. hard selects hard projection of categorical
// blocks (see Transformation.ApplyConstraints).
//
// It panics (as graph building functions do) if shapes don't match.
func (m *Materialized) ApplyConstraints(x, cf *Node, hard bool) *Node {
	if len(m.features) == 0 {
		return cf
	}
	parts := make([]*Node, 0, len(m.features))
	m.forEachBlock(x, cf, func(f *Feature, xBlock, cfBlock *Node) {
		parts = append(parts, f.ApplyConstraints(xBlock, cfBlock, hard))
	})
	return Concatenate(parts, -1)
}

// RegLoss returns the scalar sum of the regularization of every feature's block of cf.
// No feature's regularization depends on the original instance: x is passed through
// unsliced and can be nil.
func (m *Materialized) RegLoss(x, cf *Node, hard bool) *Node {
	loss := ScalarZero(cf.Graph(), cf.DType())
	if len(m.features) == 0 {
		return loss
	}
	if cf.Rank() != 2 || cf.Shape().Dimensions[1] != m.width {
		exceptions.Panicf("features: cf must be shaped [n, %d], got %s", m.width, cf.Shape())
	}
	for ii, f := range m.features {
		r := m.ranges[ii]
		loss = Add(loss, f.RegLoss(x, Slice(cf, AxisRange(), AxisRange(r.Start, r.End)), hard))
	}
	return loss
}

// String implements fmt.Stringer.
func (m *Materialized) String() string {
	return fmt.Sprintf("features.Materialized{features=%q, width=%d, rows=%d}", m.Names(), m.width, m.numRows)
}
