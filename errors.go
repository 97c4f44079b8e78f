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

package counterfactual

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, one per kind of failure. Every typed error below matches its
// sentinel with errors.Is, so callers can test the kind without unwrapping.
var (
	ErrShape            = errors.New("counterfactual: shape mismatch")
	ErrUnknownFeature   = errors.New("counterfactual: unknown feature")
	ErrConstruction     = errors.New("counterfactual: invalid construction")
	ErrModuleNotTrained = errors.New("counterfactual: module not trained")
	ErrUnsupportedLoss  = errors.New("counterfactual: unsupported loss")
)

// ShapeError is returned when the number of rows or columns given to a transformation,
// a features list or a search method doesn't match what is expected.
type ShapeError struct {
	Msg string
}

func (e *ShapeError) Error() string        { return "shape error: " + e.Msg }
func (e *ShapeError) Is(target error) bool { return target == ErrShape }

// ShapeErrorf creates a ShapeError with a formatted message and a stack trace.
func ShapeErrorf(format string, args ...any) error {
	return errors.WithStack(&ShapeError{Msg: fmt.Sprintf(format, args...)})
}

// UnknownFeatureError is returned when a feature name is not part of a features list.
type UnknownFeatureError struct {
	Name string
}

func (e *UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Name)
}
func (e *UnknownFeatureError) Is(target error) bool { return target == ErrUnknownFeature }

// NewUnknownFeatureError returns an UnknownFeatureError for name, with a stack trace.
func NewUnknownFeatureError(name string) error {
	return errors.WithStack(&UnknownFeatureError{Name: name})
}

// ConstructionError is returned for contradictory or missing configuration, e.g. a
// feature declared categorical with a non-categorical transformation.
type ConstructionError struct {
	Msg string
}

func (e *ConstructionError) Error() string        { return "construction error: " + e.Msg }
func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }

// ConstructionErrorf creates a ConstructionError with a formatted message and a stack trace.
func ConstructionErrorf(format string, args ...any) error {
	return errors.WithStack(&ConstructionError{Msg: fmt.Sprintf(format, args...)})
}

// ModuleNotTrainedError is returned when a parametric method is used before its
// parameters are trained or loaded.
type ModuleNotTrainedError struct {
	Module string
}

func (e *ModuleNotTrainedError) Error() string {
	return fmt.Sprintf("module %q is not trained: train it or load its parameters first", e.Module)
}
func (e *ModuleNotTrainedError) Is(target error) bool { return target == ErrModuleNotTrained }

// NewModuleNotTrainedError returns a ModuleNotTrainedError for module, with a stack trace.
func NewModuleNotTrainedError(module string) error {
	return errors.WithStack(&ModuleNotTrainedError{Module: module})
}

// UnsupportedLossError is returned when a loss name is not in the registry, see KnownLosses.
type UnsupportedLossError struct {
	Name string
}

func (e *UnsupportedLossError) Error() string {
	return fmt.Sprintf("unsupported loss %q, known losses are %q", e.Name, KnownLosses())
}
func (e *UnsupportedLossError) Is(target error) bool { return target == ErrUnsupportedLoss }
