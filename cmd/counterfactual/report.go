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
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	validStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	invalidStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// row of a report table: a decoded instance or counterfactual, with its prediction.
type row struct {
	label      string
	prediction float64
	valid      bool
}

// renderTable returns a table with the decoded rows of df, one column per feature, followed by
// the prediction and whether it flips the instance's label. The first row is the instance.
func renderTable(df dataframe.DataFrame, rows []row) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	headers := append([]string{""}, df.Names()...)
	headers = append(headers, "prediction", "flipped")
	table.Headers(headers...)

	records := df.Records()[1:] // Skip header.
	for ii, r := range rows {
		cells := make([]string, 0, len(headers))
		cells = append(cells, r.label)
		cells = append(cells, records[ii]...)
		cells = append(cells, fmt.Sprintf("%.3f", r.prediction))
		switch {
		case ii == 0:
			cells = append(cells, "")
		case r.valid:
			cells = append(cells, validStyle.Render("yes"))
		default:
			cells = append(cells, invalidStyle.Render("no"))
		}
		table.Row(cells...)
	}
	return table.String()
}

// formatDuration formats d with SI units, e.g. "350 ms".
func formatDuration(d time.Duration) string {
	return humanize.SIWithDigits(d.Seconds(), 2, "s")
}

// plotLoss saves the loss history of a DiverseCF search as a PNG line plot in path.
func plotLoss(title string, losses []float64, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	points := make(plotter.XYs, len(losses))
	for ii, loss := range losses {
		points[ii].X = float64(ii)
		points[ii].Y = loss
	}
	line, err := plotter.NewLine(points)
	if err != nil {
		return errors.Wrap(err, "failed to create loss line")
	}
	p.Add(line, plotter.NewGrid())
	if err = p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save loss plot to %q", path)
	}
	return nil
}
