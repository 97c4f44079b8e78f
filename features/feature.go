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
	"sync"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	. "github.com/gomlx/gomlx/graph"
	"github.com/pkg/errors"

	"github.com/gomlx/counterfactual"
)

// Feature is a named raw column with its Transformation.
//
// It owns its Transformation and its data: both are copied when the Feature is built.
// The transformed data is computed on first use and cached.
type Feature struct {
	name           string
	raw            series.Series
	transformation *Transformation
	immutable      bool
	categorical    bool

	transformOnce sync.Once
	transformed   [][]float64
	transformErr  error
}

// Builder for a Feature, created by New or NewFromDataFrame. Finish it with Done.
type Builder struct {
	name           string
	columns        []series.Series
	transformation *Transformation
	immutable      bool
	categorical    *bool
	err            error
}

// New starts building a Feature named name over the raw column, encoded with the
// transformation t. If t is nil, the identity is used.
func New(name string, raw series.Series, t *Transformation) *Builder {
	return &Builder{name: name, columns: []series.Series{raw}, transformation: t}
}

// NewFromDataFrame starts building a Feature from a data frame holding exactly one
// column, named after it. More columns than the transformation can encode is an error
// reported by Done.
func NewFromDataFrame(df dataframe.DataFrame, t *Transformation) *Builder {
	b := &Builder{transformation: t}
	if df.Err != nil {
		b.err = errors.Wrap(df.Err, "invalid data frame for feature")
		return b
	}
	for _, name := range df.Names() {
		b.columns = append(b.columns, df.Col(name))
	}
	if len(b.columns) > 0 {
		b.name = b.columns[0].Name
	}
	return b
}

// Immutable marks the feature as immutable: counterfactuals never change its value.
func (b *Builder) Immutable() *Builder {
	b.immutable = true
	return b
}

// Categorical states explicitly whether the feature is categorical. It must agree with
// the transformation, otherwise Done returns a ConstructionError.
func (b *Builder) Categorical(categorical bool) *Builder {
	b.categorical = &categorical
	return b
}

// Done validates the configuration, fits the transformation on the raw column (unless it
// is already fitted) and returns the Feature.
func (b *Builder) Done() (*Feature, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, counterfactual.ConstructionErrorf("feature requires a name")
	}
	t := b.transformation
	if t == nil {
		t = NewIdentity()
	}
	if len(b.columns) != 1 {
		return nil, counterfactual.ConstructionErrorf("feature %q has %d raw columns, but a %s transformation encodes exactly one",
			b.name, len(b.columns), t.Kind())
	}
	if b.categorical != nil && *b.categorical != t.IsCategorical() {
		return nil, counterfactual.ConstructionErrorf("feature %q declared categorical=%v, but its %s transformation has categorical=%v",
			b.name, *b.categorical, t.Kind(), t.IsCategorical())
	}
	f := &Feature{
		name:           b.name,
		raw:            b.columns[0].Copy(),
		transformation: t.Clone(),
		immutable:      b.immutable,
		categorical:    t.IsCategorical(),
	}
	f.raw.Name = b.name
	if err := f.transformation.Fit(f.raw); err != nil {
		return nil, errors.WithMessagef(err, "failed to fit transformation of feature %q", b.name)
	}
	return f, nil
}

// Name of the feature.
func (f *Feature) Name() string { return f.name }

// Raw returns a copy of the raw column.
func (f *Feature) Raw() series.Series { return f.raw.Copy() }

// Transformation returns the feature's transformation. It must not be modified.
func (f *Feature) Transformation() *Transformation { return f.transformation }

// IsImmutable returns whether the feature can not be changed by counterfactuals.
func (f *Feature) IsImmutable() bool { return f.immutable }

// IsCategorical returns whether the feature is categorical.
func (f *Feature) IsCategorical() bool { return f.categorical }

// Width is the number of encoded columns of the feature.
func (f *Feature) Width() int { return f.transformation.Width() }

// NumRows is the number of rows of the raw column.
func (f *Feature) NumRows() int { return f.raw.Len() }

// Transformed returns the encoded raw column. It is computed once and cached; the returned
// rows must not be modified.
func (f *Feature) Transformed() ([][]float64, error) {
	f.transformOnce.Do(func() {
		f.transformed, f.transformErr = f.transformation.Transform(f.raw)
		if f.transformErr != nil {
			f.transformErr = errors.WithMessagef(f.transformErr, "feature %q", f.name)
		}
	})
	return f.transformed, f.transformErr
}

// Transform encodes a new raw column with the feature's fitted transformation.
func (f *Feature) Transform(raw series.Series) ([][]float64, error) {
	rows, err := f.transformation.Transform(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "feature %q", f.name)
	}
	return rows, nil
}

// InverseTransform decodes rows of the feature's width back into a raw column.
func (f *Feature) InverseTransform(rows [][]float64) (series.Series, error) {
	return f.transformation.InverseTransform(f.name, rows)
}

// ApplyConstraints projects the candidate block cf, shaped `[n, Width]`, to valid values.
// If the feature is immutable, the original block x is broadcast to cf's shape instead,
// whatever cf holds.
func (f *Feature) ApplyConstraints(x, cf *Node, hard bool) *Node {
	if f.immutable {
		return BroadcastToShape(x, cf.Shape())
	}
	return f.transformation.ApplyConstraints(x, cf, hard)
}

// RegLoss is the scalar regularization of the candidate block cf. Immutable features
// contribute 0, since their values are always projected back to x.
func (f *Feature) RegLoss(x, cf *Node, hard bool) *Node {
	if f.immutable {
		return ScalarZero(cf.Graph(), cf.DType())
	}
	return f.transformation.RegLoss(x, cf, hard)
}

// clone returns a deep copy of the feature, without its cached transformed data.
func (f *Feature) clone() *Feature {
	return &Feature{
		name:           f.name,
		raw:            f.raw.Copy(),
		transformation: f.transformation.Clone(),
		immutable:      f.immutable,
		categorical:    f.categorical,
	}
}
