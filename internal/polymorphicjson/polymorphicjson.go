// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package polymorphicjson serializes interface values (e.g. a graphsage.Convolution that can be an
// AggregatorConv or a PoolingConv) with encoding/json.
//
// The encoded object gets two extra fields, "json_type" and "interface_name", taken from the
// JSONTags method of the concrete value. Decoding reads them back and builds the concrete value
// with the constructor registered for that pair.
//
// Usage:
//
//	type Convolution interface {
//		polymorphicjson.JSONIdentifiable
//		Convolve(...) *Node
//	}
//
//	func (c *AggregatorConv) JSONTags() (string, string) { return "AggregatorConv", "Convolution" }
//
//	func init() {
//		polymorphicjson.Register(func() *AggregatorConv { return &AggregatorConv{} })
//	}
//
//	type Plan struct {
//		Conv polymorphicjson.Wrapper[Convolution] `json:"conv"`
//	}
package polymorphicjson

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// Names of the discriminator fields added to the encoded objects.
const (
	TypeField      = "json_type"
	InterfaceField = "interface_name"
)

// JSONIdentifiable is implemented by the concrete types that can be encoded as an interface value.
type JSONIdentifiable interface {
	// JSONTags returns the unique name for the concrete type and the name of the interface it is encoded as.
	JSONTags() (typeName string, interfaceName string)
}

var (
	// registry maps interface name -> concrete type name -> constructor.
	registry   = make(map[string]map[string]func() JSONIdentifiable)
	registryMu sync.RWMutex
)

// Register a constructor of a concrete type T. The names used are taken from the JSONTags of
// the value it returns, which must be a pointer so it can be decoded into.
//
// It is usually called from an init function.
func Register[T JSONIdentifiable](constructor func() T) {
	registryMu.Lock()
	defer registryMu.Unlock()

	typeName, interfaceName := constructor().JSONTags()
	if _, exists := registry[interfaceName]; !exists {
		registry[interfaceName] = make(map[string]func() JSONIdentifiable)
	}
	registry[interfaceName][typeName] = func() JSONIdentifiable {
		return constructor()
	}
}

// RegisteredTypes returns the sorted names of the concrete types registered for the interface.
func RegisteredTypes(interfaceName string) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry[interfaceName]))
}

// typeTags is used in the first pass of decoding, to read the discriminator fields.
type typeTags struct {
	JSONType      string `json:"json_type"`
	InterfaceName string `json:"interface_name"`
}

// Wrapper holds an interface value I and implements json.Marshaler and json.Unmarshaler for it.
type Wrapper[I JSONIdentifiable] struct {
	Value I
}

// Wrap value.
func Wrap[I JSONIdentifiable](value I) Wrapper[I] {
	return Wrapper[I]{Value: value}
}

// MarshalJSON implements json.Marshaler.
func (w Wrapper[I]) MarshalJSON() ([]byte, error) {
	return Marshal(w.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *Wrapper[I]) UnmarshalJSON(b []byte) error {
	return Unmarshal(b, &w.Value)
}

// Marshal encodes value as a JSON object with the discriminator fields added. A nil value is encoded as null.
func Marshal[I JSONIdentifiable](value I) ([]byte, error) {
	if any(value) == nil {
		return []byte("null"), nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "polymorphicjson: failed to encode %T", value)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, errors.Wrapf(err, "polymorphicjson: %T must be encoded as a JSON object", value)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	typeName, interfaceName := value.JSONTags()
	for key, tag := range map[string]string{TypeField: typeName, InterfaceField: interfaceName} {
		if fields[key], err = json.Marshal(tag); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return json.Marshal(fields)
}

// Unmarshal decodes b into target, instantiating the concrete type named by the discriminator fields.
// A null is decoded as the nil value of I.
func Unmarshal[I JSONIdentifiable](b []byte, target *I) error {
	if len(b) == 0 || string(b) == "null" {
		var nilI I
		*target = nilI
		return nil
	}

	var tags typeTags
	if err := json.Unmarshal(b, &tags); err != nil {
		return errors.Wrap(err, "polymorphicjson: failed to read type tags")
	}

	registryMu.RLock()
	typeMap, found := registry[tags.InterfaceName]
	var constructor func() JSONIdentifiable
	if found {
		constructor, found = typeMap[tags.JSONType]
	}
	registryMu.RUnlock()
	if typeMap == nil {
		return errors.Errorf("polymorphicjson: interface %q not registered", tags.InterfaceName)
	}
	if !found {
		return errors.Errorf("polymorphicjson: unknown type %q for interface %q, registered types are %v",
			tags.JSONType, tags.InterfaceName, RegisteredTypes(tags.InterfaceName))
	}

	instance := constructor()
	if err := json.Unmarshal(b, instance); err != nil {
		return errors.Wrapf(err, "polymorphicjson: failed to decode %T", instance)
	}
	value, ok := instance.(I)
	if !ok {
		var zero I
		return errors.Errorf("polymorphicjson: decoded %T does not implement %T", instance, &zero)
	}
	*target = value
	return nil
}
