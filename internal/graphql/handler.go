// Package graphql serves the booking API over GraphQL. Queries are parsed
// and validated against an embedded schema and resolved against the
// booking service.
package graphql

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"go.uber.org/zap"
)

//go:embed schema.graphqls
var schemaSource string

// Schema returns the parsed API schema.
func Schema() *ast.Schema {
	return gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})
}

// Request is a GraphQL request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response body.
type Response struct {
	Data   any            `json:"data"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// Handler executes GraphQL requests.
type Handler struct {
	schema   *ast.Schema
	resolver *Resolver
}

// NewHandler creates a handler for resolver.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{
		schema:   Schema(),
		resolver: resolver,
	}
}

// Execute runs req. Documents that fail validation return errors and no data.
func (h *Handler) Execute(ctx context.Context, req Request) *Response {
	doc, errs := gqlparser.LoadQuery(h.schema, req.Query)
	if len(errs) > 0 {
		return &Response{Errors: errs}
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("operation %q not found", req.OperationName)}}
	}

	vars, err := validator.VariableValues(h.schema, op, req.Variables)
	if err != nil {
		var gqlErr *gqlerror.Error
		if !errors.As(err, &gqlErr) {
			gqlErr = gqlerror.Errorf("%s", err.Error())
		}
		return &Response{Errors: gqlerror.List{gqlErr}}
	}

	var (
		fields   map[string]resolveFunc
		typeName string
	)
	switch op.Operation {
	case ast.Mutation:
		fields, typeName = h.resolver.mutationFields(), "Mutation"
	case ast.Query:
		fields, typeName = h.resolver.queryFields(), "Query"
	default:
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("%s operations are not supported", op.Operation)}}
	}

	data := make(map[string]any)
	var resErrs gqlerror.List
	for _, field := range collectFields(op.SelectionSet, vars) {
		if field.Name == "__typename" {
			data[field.Alias] = typeName
			continue
		}
		resolve, ok := fields[field.Name]
		if !ok {
			resErrs = append(resErrs, gqlerror.Errorf("field %s is not resolvable", field.Name))
			data[field.Alias] = nil
			continue
		}

		path := ast.Path{ast.PathName(field.Alias)}
		value, err := resolve(ctx, field.ArgumentMap(vars))
		if err == nil {
			value, err = toGeneric(value)
		}
		if err != nil {
			h.logFieldError(ctx, field.Name, err)
			resErrs = append(resErrs, fieldError(err, path))
			data[field.Alias] = nil
			continue
		}
		data[field.Alias] = completeValue(value, field, vars)
	}

	return &Response{Data: data, Errors: resErrs}
}

func (h *Handler) logFieldError(ctx context.Context, field string, err error) {
	logger := h.resolver.Logger.Ctx(ctx)
	code := booking.ErrorCode(err)
	if code == booking.CodeInternal {
		logger.Error("GraphQL resolver failed", zap.String("field", field), zap.Error(err))
		return
	}
	logger.Info("GraphQL resolver returned error",
		zap.String("field", field),
		zap.String("code", code),
		zap.Error(err),
	)
}

// ServeHTTP implements http.Handler for POST requests with a JSON body.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, &Response{
			Errors: gqlerror.List{gqlerror.Errorf("invalid request body: %v", err)},
		})
		return
	}

	resp := h.Execute(r.Context(), req)
	status := http.StatusOK
	if resp.Data == nil && len(resp.Errors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeResponse(w, status, resp)
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
