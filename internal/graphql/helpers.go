package graphql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// shipmentInputToModel converts a coerced ShipmentInput argument into a
// shipment request. Input field names match the request's JSON names.
func shipmentInputToModel(input any) (*shipper.ShipmentRequest, error) {
	fields, ok := input.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("shipment input: unexpected %T", input)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("shipment input: %w", err)
	}

	var req shipper.ShipmentRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("shipment input: %w", err)
	}

	req.SetDefaults()
	return &req, nil
}

// bookingToMap renders b in its output shape, including computed fields.
func bookingToMap(b *booking.Booking) (any, error) {
	v, err := toGeneric(b)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("booking %s: unexpected shape", b.ID)
	}
	obj["manual"] = b.Manual()
	return obj, nil
}

// toGeneric converts a Go value into maps, slices and scalars through its
// JSON encoding so that selections can be applied by field name.
func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// completeValue applies the field's selection set to v.
func completeValue(v any, field *ast.Field, vars map[string]any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = completeValue(val[i], field, vars)
		}
		return out
	case map[string]any:
		if len(field.SelectionSet) == 0 {
			return val
		}
		return projectObject(val, field.SelectionSet, field.Definition.Type.Name(), vars)
	default:
		return val
	}
}

func projectObject(obj map[string]any, set ast.SelectionSet, typeName string, vars map[string]any) map[string]any {
	out := make(map[string]any)
	for _, f := range collectFields(set, vars) {
		if f.Name == "__typename" {
			out[f.Alias] = typeName
			continue
		}
		out[f.Alias] = completeValue(obj[f.Name], f, vars)
	}
	return out
}

// collectFields flattens fragments and drops fields excluded by @skip or
// @include.
func collectFields(set ast.SelectionSet, vars map[string]any) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if included(s.Directives, vars) {
				fields = append(fields, s)
			}
		case *ast.InlineFragment:
			if included(s.Directives, vars) {
				fields = append(fields, collectFields(s.SelectionSet, vars)...)
			}
		case *ast.FragmentSpread:
			if included(s.Directives, vars) && s.Definition != nil {
				fields = append(fields, collectFields(s.Definition.SelectionSet, vars)...)
			}
		}
	}
	return fields
}

func included(directives ast.DirectiveList, vars map[string]any) bool {
	if d := directives.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(vars)["if"].(bool); skip {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

// fieldError renders err as a GraphQL error at path with a machine-readable
// code extension.
func fieldError(err error, path ast.Path) *gqlerror.Error {
	ext := map[string]any{"code": booking.ErrorCode(err)}

	var verr *shipper.ValidationError
	if errors.As(err, &verr) {
		ext["fields"] = verr.Fields()
	}
	var berr *bookingError
	if errors.As(err, &berr) {
		ext["bookingId"] = berr.booking.ID
		ext["state"] = string(berr.booking.State)
	}

	return &gqlerror.Error{
		Err:        err,
		Message:    err.Error(),
		Path:       path,
		Extensions: ext,
	}
}
