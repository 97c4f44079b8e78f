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

// Package tabular loads a CSV table into a features list and train/test splits.
//
// The continuous columns are min-max scaled and the discrete columns one-hot encoded,
// the last column of the table is the binary target. The first 75% of the rows are used for
// training, the rest for testing, without shuffling.
package tabular

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/features"
)

// TestFraction is the fraction of the rows, at the end of the table, used for testing.
const TestFraction = 0.25

// Split of the data module.
type Split int

const (
	Train Split = iota
	Test
)

// String implements fmt.Stringer.
func (s Split) String() string {
	if s == Train {
		return "train"
	}
	return "test"
}

// Module holds a table encoded by its features list, split in train and test rows.
type Module struct {
	config   Config
	df       dataframe.DataFrame
	target   string
	features *features.Materialized

	// Encoded features and labels, float32, shaped `[n, Width]` and `[n, 1]`.
	x, y    [2]*tensors.Tensor
	numRows [2]int
}

// Load reads the CSV file in cfg.DataPath and creates the Module.
func Load(cfg Config) (*Module, error) {
	if cfg.DataPath == "" {
		return nil, counterfactual.ConstructionErrorf("tabular data requires data_path")
	}
	f, err := os.Open(cfg.DataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", cfg.DataPath)
	}
	defer func() { _ = f.Close() }()
	m, err := Read(cfg, f)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load %q", cfg.DataPath)
	}
	return m, nil
}

// Read parses CSV contents, with a header, and creates the Module.
func Read(cfg Config, r io.Reader) (*Module, error) {
	types := make(map[string]series.Type, len(cfg.ContinuousCols)+len(cfg.DiscreteCols))
	for _, name := range cfg.ContinuousCols {
		types[name] = series.Float
	}
	for _, name := range cfg.DiscreteCols {
		types[name] = series.String
	}
	df := dataframe.ReadCSV(r, dataframe.WithTypes(types))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	return New(cfg, df)
}

// New creates the Module from a data frame whose last column is the target.
//
// The target can't be a feature, and immutable columns must be features, otherwise it
// returns a counterfactual.ConstructionError.
func New(cfg Config, df dataframe.DataFrame) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "invalid data frame")
	}
	names := df.Names()
	if len(names) == 0 {
		return nil, counterfactual.ConstructionErrorf("tabular data has no columns")
	}
	target := names[len(names)-1]
	columns := slices.Concat(cfg.ContinuousCols, cfg.DiscreteCols)
	if len(columns) == 0 {
		return nil, counterfactual.ConstructionErrorf("tabular data requires continuous_cols or discrete_cols")
	}
	if slices.Contains(columns, target) {
		return nil, counterfactual.ConstructionErrorf("continuous_cols or discrete_cols contains the target column %q", target)
	}
	for _, name := range cfg.ImmutableCols {
		if !slices.Contains(columns, name) {
			return nil, counterfactual.ConstructionErrorf("immutable column %q is not in continuous_cols or discrete_cols", name)
		}
	}
	for _, name := range columns {
		if !slices.Contains(names, name) {
			return nil, counterfactual.NewUnknownFeatureError(name)
		}
	}

	m := &Module{config: cfg, df: df.Select(append(slices.Clone(columns), target)), target: target}
	feats := make([]*features.Feature, 0, len(columns))
	for ii, name := range columns {
		raw := m.df.Col(name)
		var t *features.Transformation
		if ii < len(cfg.ContinuousCols) {
			raw = series.New(raw.Float(), series.Float, name)
			t = features.NewMinMax()
		} else {
			t = features.NewOneHot()
		}
		b := features.New(name, raw, t)
		if slices.Contains(cfg.ImmutableCols, name) {
			b = b.Immutable()
		}
		f, err := b.Done()
		if err != nil {
			return nil, err
		}
		feats = append(feats, f)
	}
	list, err := features.NewList(feats...)
	if err != nil {
		return nil, err
	}
	if m.features, err = list.Materialize(); err != nil {
		return nil, err
	}

	rows := m.features.Data()
	labels := m.df.Col(target).Float()
	for ii, v := range labels {
		if math.IsNaN(v) {
			return nil, counterfactual.ConstructionErrorf("target column %q has a non-numeric value in row %d", target, ii)
		}
	}
	numTrain := len(rows) - int(math.Ceil(TestFraction*float64(len(rows))))
	numTest := len(rows) - numTrain
	trainRows, trainLabels := rows[:numTrain], labels[:numTrain]
	if cfg.SampleFrac > 0 {
		sampled := int(float64(numTrain) * cfg.SampleFrac)
		trainRows, trainLabels = trainRows[:sampled], trainLabels[:sampled]
	}
	m.setSplit(Train, trainRows, trainLabels)
	m.setSplit(Test, rows[numTrain:], labels[numTrain:])
	klog.V(1).Infof("tabular: %d rows (%d train, %d test), %d features encoded in %d columns, target %q",
		len(rows), m.numRows[Train], numTest, m.features.Len(), m.features.Width(), target)
	return m, nil
}

func (m *Module) setSplit(split Split, rows [][]float64, labels []float64) {
	m.numRows[split] = len(rows)
	m.x[split] = features.RowsToTensor(rows, m.features.Width(), dtypes.Float32)
	flat := make([]float32, len(labels))
	for ii, v := range labels {
		flat[ii] = float32(v)
	}
	m.y[split] = tensors.FromFlatDataAndDimensions(flat, len(labels), 1)
}

// Config returns the configuration of the module.
func (m *Module) Config() Config { return m.config }

// Features returns the materialized features list, fitted on all rows.
func (m *Module) Features() *features.Materialized { return m.features }

// Target returns the name of the target column.
func (m *Module) Target() string { return m.target }

// DataFrame returns the feature columns and the target of the table.
func (m *Module) DataFrame() dataframe.DataFrame { return m.df.Copy() }

// NumRows returns the number of rows of the split.
func (m *Module) NumRows(split Split) int { return m.numRows[split] }

// Data returns the encoded features, float32 shaped `[n, Width]`, and labels, shaped `[n, 1]`,
// of the split.
func (m *Module) Data(split Split) (x, y *tensors.Tensor) {
	return m.x[split], m.y[split]
}

// Dataset returns an in-memory dataset of the split, yielding the encoded features as
// input and the labels.
func (m *Module) Dataset(backend backends.Backend, split Split) (*data.InMemoryDataset, error) {
	ds, err := data.InMemoryFromData(backend, fmt.Sprintf("tabular %s", split),
		[]any{m.x[split]}, []any{m.y[split]})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s dataset", split)
	}
	return ds, nil
}

// Transform encodes the feature columns of df. Other columns, e.g. the target, are ignored.
func (m *Module) Transform(df dataframe.DataFrame) (*tensors.Tensor, error) {
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "invalid data frame to transform")
	}
	names := m.features.Names()
	for _, name := range names {
		if !slices.Contains(df.Names(), name) {
			return nil, counterfactual.ShapeErrorf("feature %q missing from the data to transform", name)
		}
	}
	df = df.Select(names)
	for _, name := range m.config.ContinuousCols {
		df = df.Mutate(series.New(df.Col(name).Float(), series.Float, name))
	}
	rows, err := m.features.TransformDataFrame(df)
	if err != nil {
		return nil, err
	}
	return features.RowsToTensor(rows, m.features.Width(), dtypes.Float32), nil
}

// InverseTransform decodes encoded rows, shaped `[n, Width]`, to a data frame of the
// feature columns.
func (m *Module) InverseTransform(x *tensors.Tensor) (dataframe.DataFrame, error) {
	rows, err := features.TensorToRows(x)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	return m.features.DataFrame(rows)
}
