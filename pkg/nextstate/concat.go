// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package nextstate

import (
	"encoding/json"

	"github.com/gomlx/gnn/internal/polymorphicjson"
	"github.com/gomlx/gnn/pkg/graphtensor"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// FromConcat computes the new state by concatenating all inputs on the feature axis, and
// transforming the result with Transformation.
type FromConcat struct {
	Transformation Transformation
}

var _ UpdateRule = (*FromConcat)(nil)

// NewFromConcat returns a FromConcat update rule with the given transformation.
func NewFromConcat(transformation Transformation) *FromConcat {
	return &FromConcat{Transformation: transformation}
}

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (c *FromConcat) JSONTags() (string, string) { return "FromConcat", InterfaceName }

// Validate implements UpdateRule.
func (c *FromConcat) Validate() error {
	if c.Transformation == nil {
		return graphtensor.Errorf(graphtensor.ErrConfiguration, "FromConcat requires a transformation")
	}
	return c.Transformation.Validate()
}

// Apply implements UpdateRule.
func (c *FromConcat) Apply(ctx *context.Context, inputs Inputs, training bool) graphtensor.Fields {
	if err := c.Validate(); err != nil {
		panic(err)
	}
	x := concatInputs(inputs)
	return graphtensor.Tensor(c.Transformation.Transform(ctx.In("transformation"), x, training))
}

type fromConcatJSON struct {
	Transformation polymorphicjson.Wrapper[Transformation] `json:"transformation"`
}

// MarshalJSON implements json.Marshaler.
func (c *FromConcat) MarshalJSON() ([]byte, error) {
	return json.Marshal(fromConcatJSON{Transformation: polymorphicjson.Wrap(c.Transformation)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *FromConcat) UnmarshalJSON(b []byte) error {
	var decoded fromConcatJSON
	if err := json.Unmarshal(b, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode FromConcat")
	}
	c.Transformation = decoded.Transformation.Value
	return nil
}

func init() {
	polymorphicjson.Register(func() UpdateRule { return &FromConcat{} })
	polymorphicjson.Register(func() UpdateRule { return &Residual{} })
}
