package graphql_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/internal/erpsync"
	"github.com/tournevent/carrierbridge/internal/graphql"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/mock"
	"github.com/tournevent/carrierbridge/pkg/shipper/validation"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type gqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path"`
	Extensions map[string]any `json:"extensions"`
}

type gqlResponse struct {
	Data   map[string]any `json:"data"`
	Errors []gqlError     `json:"errors"`
}

func newHandler(t *testing.T) (*graphql.Handler, *mock.Client) {
	t.Helper()

	logger := otelzap.New(zap.NewNop())
	carrier := mock.New(shipper.CarrierDHL)
	registry := shipper.NewRegistry()
	registry.Register(carrier)

	orch := booking.New(registry, booking.NewMemoryStore(), erpsync.NewLogSyncer(logger), logger,
		booking.WithValidator(validation.New(validation.DefaultMetadata())),
	)
	return graphql.NewHandler(graphql.NewResolver(orch, logger)), carrier
}

func post(t *testing.T, h http.Handler, query string, vars map[string]any) (int, gqlResponse) {
	t.Helper()

	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp gqlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func shipmentInput(reference string) map[string]any {
	return map[string]any{
		"carrier":   shipper.CarrierDHL,
		"reference": reference,
		"shipper": map[string]any{
			"address": map[string]any{"streetLines": []string{"Warehouse 7"}, "city": "Dubai", "countryCode": "AE"},
			"contact": map[string]any{"name": "Ops Desk", "phone": "+97148800000"},
		},
		"receiver": map[string]any{
			"address": map[string]any{
				"streetLines": []string{"350 5th Ave"},
				"city":        "New York",
				"regionCode":  "NY",
				"postalCode":  "10118",
				"countryCode": "US",
			},
			"contact": map[string]any{"name": "Jane Doe", "phone": "+12125550100"},
		},
		"packages": []any{map[string]any{
			"weight":     map[string]any{"value": 2.5, "unit": "kg"},
			"dimensions": map[string]any{"length": 30, "width": 20, "height": 10, "unit": "cm"},
			"count":      2,
		}},
		"plannedShipAt": "2026-03-02T14:00:00+04:00",
		"customs": map[string]any{
			"lines": []any{map[string]any{
				"description":        "Cotton shirts",
				"quantity":           12,
				"unitPrice":          map[string]any{"amount": 15, "currency": "USD"},
				"netWeight":          map[string]any{"value": 6, "unit": "kg"},
				"grossWeight":        map[string]any{"value": 7.5, "unit": "kg"},
				"manufactureCountry": "AE",
			}},
			"invoice":       map[string]any{"number": "INV-1001"},
			"declaredValue": map[string]any{"amount": 180, "currency": "USD"},
			"dutiesPayer":   "RECIPIENT",
			"purpose":       "SOLD",
		},
	}
}

const bookMutation = `
mutation Book($input: ShipmentInput!) {
  bookShipment(input: $input) {
    id
    state
    manual
    carrier
    result { trackingNumber packageTrackingNumbers documents { type format } }
    history { from to }
  }
}`

func TestHandler_Carriers(t *testing.T) {
	h, _ := newHandler(t)

	status, resp := post(t, h, `{ carriers __typename }`, nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, []any{"dhl"}, resp.Data["carriers"])
	assert.Equal(t, "Query", resp.Data["__typename"])
}

func TestHandler_Rates(t *testing.T) {
	h, carrier := newHandler(t)

	query := `
query Rates($input: ShipmentInput!) {
  quote: rates(input: $input) {
    status
    quotes { ...price serviceCode }
  }
}
fragment price on RateQuote { totalPrice { amount currency } }`

	status, resp := post(t, h, query, map[string]any{"input": shipmentInput("ORD-2001")})

	require.Equal(t, http.StatusOK, status)
	require.Empty(t, resp.Errors)

	outcome := resp.Data["quote"].(map[string]any)
	assert.Equal(t, "AVAILABLE", outcome["status"])
	quotes := outcome["quotes"].([]any)
	require.Len(t, quotes, 2)

	first := quotes[0].(map[string]any)
	assert.Equal(t, "EXPRESS", first["serviceCode"])
	assert.Equal(t, map[string]any{"amount": 29.95, "currency": "USD"}, first["totalPrice"])
	assert.NotContains(t, first, "serviceName")
	assert.Equal(t, int64(1), carrier.RateCalls())
}

func TestHandler_BookShipmentAndFetch(t *testing.T) {
	h, carrier := newHandler(t)

	status, resp := post(t, h, bookMutation, map[string]any{"input": shipmentInput("ORD-2002")})

	require.Equal(t, http.StatusOK, status)
	require.Empty(t, resp.Errors)

	booked := resp.Data["bookShipment"].(map[string]any)
	assert.Equal(t, "COMPLETE", booked["state"])
	assert.Equal(t, false, booked["manual"])
	result := booked["result"].(map[string]any)
	assert.NotEmpty(t, result["trackingNumber"])
	assert.Len(t, result["packageTrackingNumbers"], 2)
	assert.Equal(t, []any{map[string]any{"type": "LABEL", "format": "PDF"}}, result["documents"])
	assert.Len(t, booked["history"], 5)
	assert.Equal(t, int64(1), carrier.BookCalls())

	id := booked["id"].(string)
	_, resp = post(t, h, `query($id: ID!) { booking(id: $id) { id reference state } }`, map[string]any{"id": id})

	require.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"id": id, "reference": "ORD-2002", "state": "COMPLETE"}, resp.Data["booking"])
}

func TestHandler_BookingNotFound(t *testing.T) {
	h, _ := newHandler(t)

	status, resp := post(t, h, `{ booking(id: "missing") { id } }`, nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, resp.Errors)
	assert.Contains(t, resp.Data, "booking")
	assert.Nil(t, resp.Data["booking"])
}

func TestHandler_DefaultsPackageCount(t *testing.T) {
	h, carrier := newHandler(t)

	var count int
	carrier.OnBook = func(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.BookingResult, error) {
		count = req.Packages[0].Count
		return &shipper.BookingResult{Carrier: shipper.CarrierDHL, TrackingNumber: "1234567890"}, nil
	}

	input := shipmentInput("ORD-2003")
	delete(input["packages"].([]any)[0].(map[string]any), "count")

	_, resp := post(t, h, bookMutation, map[string]any{"input": input})

	require.Empty(t, resp.Errors)
	assert.Equal(t, 1, count)
}

func TestHandler_ValidationError(t *testing.T) {
	h, carrier := newHandler(t)

	input := shipmentInput("ORD-2004")
	input["receiver"].(map[string]any)["address"].(map[string]any)["countryCode"] = "USA"

	status, resp := post(t, h, bookMutation, map[string]any{"input": input})

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, booking.CodeValidation, resp.Errors[0].Extensions["code"])
	assert.Contains(t, resp.Errors[0].Extensions["fields"], "receiver.address.countryCode")
	assert.Equal(t, []any{"bookShipment"}, resp.Errors[0].Path)
	assert.Nil(t, resp.Data["bookShipment"])
	assert.Equal(t, int64(0), carrier.BookCalls())
}

func TestHandler_AlreadyBooked(t *testing.T) {
	h, carrier := newHandler(t)
	vars := map[string]any{"input": shipmentInput("ORD-2005")}

	_, first := post(t, h, bookMutation, vars)
	require.Empty(t, first.Errors)
	id := first.Data["bookShipment"].(map[string]any)["id"]

	_, second := post(t, h, bookMutation, vars)

	require.Len(t, second.Errors, 1)
	assert.Equal(t, booking.CodeAlreadyBooked, second.Errors[0].Extensions["code"])
	assert.Equal(t, id, second.Errors[0].Extensions["bookingId"])
	assert.Equal(t, "COMPLETE", second.Errors[0].Extensions["state"])
	assert.Equal(t, int64(1), carrier.BookCalls())
}

func TestHandler_CarrierRejection(t *testing.T) {
	h, carrier := newHandler(t)
	carrier.BookErr = shipper.NewCarrierAPIError(shipper.CarrierDHL, shipper.KindBookingRejected, "invalid postcode")

	_, resp := post(t, h, bookMutation, map[string]any{"input": shipmentInput("ORD-2006")})

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, booking.CodeCarrierError, resp.Errors[0].Extensions["code"])
	assert.Equal(t, "BOOKING_FAILED", resp.Errors[0].Extensions["state"])
}

func TestHandler_SkipDirective(t *testing.T) {
	h, _ := newHandler(t)

	_, resp := post(t, h, `query($skip: Boolean!) { carriers @skip(if: $skip) __typename }`, map[string]any{"skip": true})

	require.Empty(t, resp.Errors)
	assert.NotContains(t, resp.Data, "carriers")
}

func TestHandler_InvalidQuery(t *testing.T) {
	h, _ := newHandler(t)

	status, resp := post(t, h, `{ shipments { id } }`, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotEmpty(t, resp.Errors)
	assert.Nil(t, resp.Data)
}

func TestHandler_MissingVariable(t *testing.T) {
	h, _ := newHandler(t)

	status, resp := post(t, h, bookMutation, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotEmpty(t, resp.Errors)
}

func TestHandler_BadRequests(t *testing.T) {
	h, _ := newHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchema(t *testing.T) {
	schema := graphql.Schema()

	require.NotNil(t, schema.Query)
	require.NotNil(t, schema.Mutation)
	assert.NotNil(t, schema.Query.Fields.ForName("rates"))
	assert.NotNil(t, schema.Mutation.Fields.ForName("bookShipment"))
}
