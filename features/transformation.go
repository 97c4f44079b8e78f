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

// Package features encodes heterogeneous tabular columns into one contiguous numeric
// vector and keeps candidate vectors consistent with that encoding during optimization.
//
// A Transformation encodes one column (identity, min-max scaling, one-hot or ordinal), a
// Feature binds a named column to its Transformation, and a List orders Features into the
// column layout used by the counterfactual search methods. Encoding and decoding run on the
// host, while the optimization hooks (ApplyConstraints and RegLoss) build graph operations.
package features

import (
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/series"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/gomlx/counterfactual"
)

// Kind of Transformation.
type Kind int

const (
	// KindIdentity passes values through.
	KindIdentity Kind = iota

	// KindMinMax scales values to [0, 1] using the fitted minimum and maximum.
	KindMinMax

	// KindOneHot encodes a category as a one-hot block, one column per category.
	KindOneHot

	// KindOrdinal encodes a category as its rank among the sorted categories.
	KindOrdinal
)

//go:generate enumer -type=Kind -trimprefix=Kind -transform=snake -values -text -json -yaml transformation.go

// IsCategorical returns whether the kind encodes categories.
func (k Kind) IsCategorical() bool {
	return k == KindOneHot || k == KindOrdinal
}

// ParseTransformation returns an unfitted Transformation from its name. Besides the Kind
// names, the short names "ohe", "onehot" and "minmax" are accepted.
func ParseTransformation(name string) (*Transformation, error) {
	switch strings.ToLower(name) {
	case "ohe", "onehot":
		return NewOneHot(), nil
	case "minmax":
		return NewMinMax(), nil
	}
	kind, err := KindString(name)
	if err != nil {
		return nil, counterfactual.ConstructionErrorf("unknown transformation %q, valid values are %q and \"ohe\", \"minmax\"",
			name, KindStrings())
	}
	return &Transformation{kind: kind, fitted: kind == KindIdentity}, nil
}

// Transformation is a reversible encoding of one raw column into a block of numeric
// columns. It is created unfitted (NewMinMax, NewOneHot, ...) and fitted once on the
// training column, or created already fitted and frozen (NewMinMaxFitted, ...), in which
// case Fit is a no-op.
type Transformation struct {
	kind   Kind
	fitted bool
	frozen bool

	// KindMinMax state.
	min, max float64

	// KindOneHot and KindOrdinal state: sorted unique categories. If numeric is set,
	// values holds the numeric categories and categories their string forms.
	numeric    bool
	categories []string
	values     []float64
}

// NewIdentity returns the identity transformation, it needs no fitting.
func NewIdentity() *Transformation { return &Transformation{kind: KindIdentity, fitted: true} }

// NewMinMax returns an unfitted min-max scaling.
func NewMinMax() *Transformation { return &Transformation{kind: KindMinMax} }

// NewOneHot returns an unfitted one-hot encoding.
func NewOneHot() *Transformation { return &Transformation{kind: KindOneHot} }

// NewOrdinal returns an unfitted ordinal encoding.
func NewOrdinal() *Transformation { return &Transformation{kind: KindOrdinal} }

// NewMinMaxFitted returns a frozen min-max scaling with the given range.
func NewMinMaxFitted(min, max float64) (*Transformation, error) {
	if !(min <= max) {
		return nil, counterfactual.ConstructionErrorf("min-max scaling requires min <= max, got [%g, %g]", min, max)
	}
	return &Transformation{kind: KindMinMax, fitted: true, frozen: true, min: min, max: max}, nil
}

// NewOneHotFitted returns a frozen one-hot encoding over the given categories.
func NewOneHotFitted(categories series.Series) (*Transformation, error) {
	return newCategoricalFitted(KindOneHot, categories)
}

// NewOrdinalFitted returns a frozen ordinal encoding over the given categories.
func NewOrdinalFitted(categories series.Series) (*Transformation, error) {
	return newCategoricalFitted(KindOrdinal, categories)
}

func newCategoricalFitted(kind Kind, categories series.Series) (*Transformation, error) {
	t := &Transformation{kind: kind}
	if err := t.Fit(categories); err != nil {
		return nil, err
	}
	t.frozen = true
	return t, nil
}

// Kind returns the kind of transformation.
func (t *Transformation) Kind() Kind { return t.kind }

// IsCategorical returns whether the transformation encodes categories.
func (t *Transformation) IsCategorical() bool { return t.kind.IsCategorical() }

// IsFitted returns whether the transformation has its state, either fitted or given frozen.
func (t *Transformation) IsFitted() bool { return t.fitted }

// IsFrozen returns whether the transformation was given already fitted.
func (t *Transformation) IsFrozen() bool { return t.frozen }

// Categories returns the sorted categories of a fitted categorical transformation.
func (t *Transformation) Categories() []string { return slices.Clone(t.categories) }

// Range returns the fitted minimum and maximum of a min-max scaling.
func (t *Transformation) Range() (min, max float64) { return t.min, t.max }

// Width is the number of encoded columns. It is only known for categorical
// transformations after fitting.
func (t *Transformation) Width() int {
	if t.kind == KindOneHot {
		return len(t.categories)
	}
	return 1
}

// Clone returns a deep copy of the transformation.
func (t *Transformation) Clone() *Transformation {
	t2 := *t
	t2.categories = slices.Clone(t.categories)
	t2.values = slices.Clone(t.values)
	return &t2
}

// singleColumn checks that exactly one raw column was given.
func singleColumn(op string, columns []series.Series) (series.Series, error) {
	if len(columns) != 1 {
		return series.Series{}, counterfactual.ShapeErrorf("%s takes exactly one column, got %d", op, len(columns))
	}
	if err := columns[0].Err; err != nil {
		return series.Series{}, errors.Wrapf(err, "%s given invalid column %q", op, columns[0].Name)
	}
	return columns[0], nil
}

func isNumeric(s series.Series) bool {
	return s.Type() == series.Float || s.Type() == series.Int
}

// Fit learns the state of the transformation from one raw column. It is a no-op if the
// transformation is already fitted.
func (t *Transformation) Fit(columns ...series.Series) error {
	if t.fitted {
		return nil
	}
	raw, err := singleColumn("Fit", columns)
	if err != nil {
		return err
	}
	if raw.Len() == 0 {
		return counterfactual.ShapeErrorf("cannot fit %s transformation on an empty column %q", t.kind, raw.Name)
	}
	switch t.kind {
	case KindMinMax:
		if !isNumeric(raw) {
			return counterfactual.ConstructionErrorf("min-max scaling requires a numeric column, %q is %s", raw.Name, raw.Type())
		}
		values := raw.Float()
		t.min, t.max = floats.Min(values), floats.Max(values)
	case KindOneHot, KindOrdinal:
		t.numeric = isNumeric(raw)
		if t.numeric {
			t.values = slices.Compact(slices.Sorted(slices.Values(raw.Float())))
			t.categories = make([]string, len(t.values))
			for ii, v := range t.values {
				t.categories[ii] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		} else {
			t.categories = slices.Compact(slices.Sorted(slices.Values(raw.Records())))
		}
	}
	t.fitted = true
	return nil
}

// index returns the position of the category of element ii of raw.
func (t *Transformation) index(raw series.Series, ii int) (int, error) {
	elem := raw.Elem(ii)
	if t.numeric {
		v := elem.Float()
		pos := sort.SearchFloat64s(t.values, v)
		if pos < len(t.values) && t.values[pos] == v {
			return pos, nil
		}
	} else {
		v := elem.String()
		pos := sort.SearchStrings(t.categories, v)
		if pos < len(t.categories) && t.categories[pos] == v {
			return pos, nil
		}
	}
	return 0, counterfactual.ShapeErrorf("value %q of column %q is not one of the %d fitted categories",
		elem.String(), raw.Name, len(t.categories))
}

// Transform encodes one raw column into rows of Width values.
func (t *Transformation) Transform(columns ...series.Series) ([][]float64, error) {
	raw, err := singleColumn("Transform", columns)
	if err != nil {
		return nil, err
	}
	if !t.fitted {
		return nil, counterfactual.ConstructionErrorf("%s transformation used before being fitted", t.kind)
	}
	numRows := raw.Len()
	rows := make([][]float64, numRows)
	switch t.kind {
	case KindIdentity, KindMinMax:
		if !isNumeric(raw) {
			return nil, counterfactual.ConstructionErrorf("%s transformation requires a numeric column, %q is %s",
				t.kind, raw.Name, raw.Type())
		}
		values := raw.Float()
		scale := t.max - t.min
		if scale == 0 {
			scale = 1
		}
		for ii, v := range values {
			if t.kind == KindMinMax {
				v = (v - t.min) / scale
			}
			rows[ii] = []float64{v}
		}
	case KindOneHot, KindOrdinal:
		for ii := range numRows {
			pos, err := t.index(raw, ii)
			if err != nil {
				return nil, err
			}
			if t.kind == KindOrdinal {
				rows[ii] = []float64{float64(pos)}
				continue
			}
			rows[ii] = make([]float64, len(t.categories))
			rows[ii][pos] = 1
		}
	}
	return rows, nil
}

// InverseTransform decodes rows of Width values back into a raw column, named name.
// One-hot rows decode to their arg-max category, ordinal values are rounded and clamped
// to the valid ranks.
func (t *Transformation) InverseTransform(name string, rows [][]float64) (series.Series, error) {
	if !t.fitted {
		return series.Series{}, counterfactual.ConstructionErrorf("%s transformation used before being fitted", t.kind)
	}
	width := t.Width()
	for ii, row := range rows {
		if len(row) != width {
			return series.Series{}, counterfactual.ShapeErrorf("%s transformation of %q requires rows of width %d, row %d has width %d",
				t.kind, name, width, ii, len(row))
		}
	}
	if t.kind == KindIdentity || t.kind == KindMinMax {
		values := make([]float64, len(rows))
		for ii, row := range rows {
			values[ii] = row[0]
			if t.kind == KindMinMax {
				values[ii] = row[0]*(t.max-t.min) + t.min
			}
		}
		return series.New(values, series.Float, name), nil
	}

	positions := make([]int, len(rows))
	for ii, row := range rows {
		if t.kind == KindOneHot {
			positions[ii] = floats.MaxIdx(row)
		} else {
			positions[ii] = min(max(int(math.Round(row[0])), 0), len(t.categories)-1)
		}
	}
	if t.numeric {
		values := make([]float64, len(rows))
		for ii, pos := range positions {
			values[ii] = t.values[pos]
		}
		return series.New(values, series.Float, name), nil
	}
	values := make([]string, len(rows))
	for ii, pos := range positions {
		values[ii] = t.categories[pos]
	}
	return series.New(values, series.String, name), nil
}

// ApplyConstraints projects the candidate block cf, shaped `[n, Width]`, back to valid
// values: min-max scaled values are clipped to [0, 1], and one-hot blocks are either
// snapped to the one-hot of their arg-max (hard) or normalized with a softmax.
// Ordinal and identity blocks are returned unchanged. The original block is not used by
// any kind, the parameter matches Feature.ApplyConstraints.
func (t *Transformation) ApplyConstraints(_, cf *Node, hard bool) *Node {
	switch t.kind {
	case KindMinMax:
		return ClipScalar(cf, 0, 1)
	case KindOneHot:
		if hard {
			return OneHot(ArgMax(cf, -1, dtypes.Int32), t.Width(), cf.DType())
		}
		return Softmax(cf, -1)
	default:
		return cf
	}
}

// RegLoss returns a scalar penalty for invalid candidate blocks: for one-hot blocks the
// mean over rows of the squared deviation of the row sum from 1, and 0 for other kinds.
func (t *Transformation) RegLoss(_, cf *Node, _ bool) *Node {
	if t.kind != KindOneHot {
		return ScalarZero(cf.Graph(), cf.DType())
	}
	return ReduceAllMean(Square(AddScalar(ReduceSum(cf, -1), -1)))
}
