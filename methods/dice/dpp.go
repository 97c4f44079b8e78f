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

package dice

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gopjrt/dtypes"
)

// KernelJitter is added to the diagonal of the diversity kernel.
const KernelJitter = 1e-8

// DiversityKernel returns the `[n, n]` kernel of the candidates cfs, shaped `[n, k]`:
// entry (i, j) is `1 / (1 + ‖cf_i − cf_j‖₁)`, plus KernelJitter on the diagonal.
func DiversityKernel(cfs *Node) *Node {
	if cfs.Rank() != 2 {
		exceptions.Panicf("DiversityKernel requires candidates shaped [n, k], got %s", cfs.Shape())
	}
	g := cfs.Graph()
	n, k := cfs.Shape().Dimensions[0], cfs.Shape().Dimensions[1]
	lhs := BroadcastToDims(ExpandAxes(cfs, 1), n, n, k)
	rhs := BroadcastToDims(ExpandAxes(cfs, 0), n, n, k)
	l1 := ReduceSum(Abs(Sub(lhs, rhs)), -1)
	kernel := Inverse(OnePlus(l1))
	return Add(kernel, DiagonalWithValue(Scalar(g, cfs.DType(), KernelJitter), n))
}

// minPivot bounds the pivots of the diversity kernel's elimination away from zero.
const minPivot = 1e-12

// Determinant of the square matrix m, by Gaussian elimination without pivoting, unrolled
// in the graph. m must have non-zero leading principal minors, which holds for the
// symmetric positive-definite diversity kernel.
func Determinant(m *Node) *Node {
	return determinant(m, false)
}

// determinant of m. If spd is set, m is taken as positive-definite and the pivots are
// clamped at minPivot, so rounding on (nearly) coincident candidates can't divide by zero.
func determinant(m *Node, spd bool) *Node {
	if m.Rank() != 2 || m.Shape().Dimensions[0] != m.Shape().Dimensions[1] {
		exceptions.Panicf("Determinant requires a square matrix, got %s", m.Shape())
	}
	g := m.Graph()
	n := m.Shape().Dimensions[0]
	det := ScalarOne(g, m.DType())
	for ii := range n {
		pivot := Reshape(Slice(m, AxisElem(0), AxisElem(0)))
		if spd {
			pivot = Max(pivot, Scalar(g, m.DType(), minPivot))
		}
		det = Mul(det, pivot)
		if ii == n-1 {
			break
		}
		// Schur complement of the pivot.
		column := Slice(m, AxisRange(1), AxisElem(0))
		row := Slice(m, AxisElem(0), AxisRange(1))
		rest := Slice(m, AxisRange(1), AxisRange(1))
		m = Sub(rest, Div(Dot(column, row), pivot))
	}
	return det
}

// Diversity is the determinant of the DiversityKernel of cfs: it grows as the candidates
// spread apart in L1 distance. It is computed in float64, where KernelJitter is not lost
// against the unit diagonal, and returned in the dtype of cfs.
func Diversity(cfs *Node) *Node {
	kernel := DiversityKernel(ConvertDType(cfs, dtypes.Float64))
	return ConvertDType(determinant(kernel, true), cfs.DType())
}
