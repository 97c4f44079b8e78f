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

// Package config decodes and validates the flat configuration records of the search methods.
//
// Records are plain structs with `yaml`, `mapstructure` and `validate` tags. They can be filled
// from a map (FromMap) or from YAML (Decode), starting from the record's defaults: unknown fields
// are rejected and the result is validated.
package config

import (
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/counterfactual"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their configuration name.
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks the `validate` tags of the record cfg. Failures are returned as a
// counterfactual.ConstructionError listing every invalid field.
func Validate(cfg any) error {
	err := getValidator().Struct(cfg)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return errors.Wrap(err, "failed to validate configuration")
	}
	parts := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		part := fieldErr.Field() + ": " + fieldErr.Tag()
		if fieldErr.Param() != "" {
			part += "=" + fieldErr.Param()
		}
		parts = append(parts, part)
	}
	return counterfactual.ConstructionErrorf("invalid configuration %T: %s", cfg, strings.Join(parts, ", "))
}

// FromMap overrides the fields of defaults with the values in m, keyed by the `mapstructure`
// tags of T, and validates the result. Keys that are not fields of T are a ConstructionError.
func FromMap[T any](defaults T, m map[string]any) (T, error) {
	cfg := defaults
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		ZeroFields:       true,
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, errors.Wrap(err, "failed to create configuration decoder")
	}
	if err = decoder.Decode(m); err != nil {
		return cfg, counterfactual.ConstructionErrorf("invalid configuration %T: %v", cfg, err)
	}
	return cfg, Validate(cfg)
}

// Decode reads a YAML document from r, overriding the fields of defaults, and validates the
// result. Unknown fields are a ConstructionError. An empty document returns the defaults.
func Decode[T any](defaults T, r io.Reader) (T, error) {
	cfg := defaults
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, counterfactual.ConstructionErrorf("invalid configuration %T: %v", cfg, err)
	}
	return cfg, Validate(cfg)
}
