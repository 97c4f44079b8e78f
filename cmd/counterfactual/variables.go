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

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/gomlx/counterfactual"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// newZebraTable returns a table with alternating faint rows. Columns after the first two are
// right-aligned.
func newZebraTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col >= 2 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

// listVariables prints the variables saved in the checkpoint in dir, with their shape, MAV (mean
// absolute value), RMS (root-mean-square) and MaxAV (max absolute value).
func listVariables(backend backends.Backend, out io.Writer, dir string) error {
	checkpoint, err := checkpoints.Build(context.New()).Dir(dir).Done()
	if err != nil {
		return errors.WithMessagef(err, "failed to read checkpoint from %q", dir)
	}
	loaded := checkpoint.LoadedVariables()
	if len(loaded) == 0 {
		return errors.WithMessagef(counterfactual.NewModuleNotTrainedError("checkpoint"), "no variables in %q", dir)
	}

	metricsExec := NewExec(backend, func(x *Node) (mav, rms, maxAV *Node) {
		x = ConvertDType(x, dtypes.Float64)
		mav = ReduceAllMean(Abs(x))
		rms = Sqrt(ReduceAllMean(Square(x)))
		maxAV = ReduceAllMax(Abs(x))
		return
	}).SetMaxCache(-1)
	table := newZebraTable()
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "MAV", "RMS", "MaxAV")
	for _, key := range slices.Sorted(maps.Keys(loaded)) {
		value := loaded[key]
		scope, name := splitParameterName(key)
		shape := value.Shape()
		var mav, rms, maxAV string
		if shape.DType.IsFloat() && shape.Size() > 0 {
			var metrics []float64
			err = exceptions.TryCatch[error](func() {
				for _, m := range metricsExec.Call(value) {
					metrics = append(metrics, m.Value().(float64))
				}
			})
			if err != nil {
				return errors.WithMessagef(err, "failed to summarize variable %q", key)
			}
			mav, rms, maxAV = fmt.Sprintf("%.3g", metrics[0]), fmt.Sprintf("%.3g", metrics[1]), fmt.Sprintf("%.3g", metrics[2])
		}
		table.Row(scope, name, shape.String(),
			humanize.Comma(int64(shape.Size())),
			humanize.Bytes(uint64(shape.Memory())),
			mav, rms, maxAV)
	}
	fmt.Fprintf(out, "%s\n%s\n", titleStyle.Render(fmt.Sprintf("Variables in %q", dir)), table.Render())
	return nil
}

// splitParameterName splits a saved variable key, e.g. "var:/cchvae/encoder/mu_z/dense/weights",
// into its scope and name.
func splitParameterName(key string) (scope, name string) {
	key = strings.TrimPrefix(key, context.VariableParameterPrefix)
	idx := strings.LastIndex(key, context.ScopeSeparator)
	if idx < 0 {
		return "", key
	}
	scope, name = key[:idx], key[idx+len(context.ScopeSeparator):]
	if scope == "" {
		scope = context.RootScope
	}
	return
}
