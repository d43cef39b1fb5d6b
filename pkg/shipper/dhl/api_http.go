package dhl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/carrierhttp"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL   string
	transport *carrierhttp.Client
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(baseURL string, transport *carrierhttp.Client) *HTTPAPIClient {
	return &HTTPAPIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
	}
}

// GetRates fetches rates with GET /rates for a single package and
// POST /rates otherwise.
func (c *HTTPAPIClient) GetRates(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error) {
	var (
		resp *carrierhttp.Response
		err  error
	)
	switch {
	case req.Query != nil:
		resp, err = c.doRequest(ctx, carrierhttp.OpRate, cred, http.MethodGet, "/rates", queryValues(req.Query), nil)
	case req.Body != nil:
		resp, err = c.doRequest(ctx, carrierhttp.OpRate, cred, http.MethodPost, "/rates", nil, req.Body)
	default:
		return nil, fmt.Errorf("dhl rate request has neither query nor body")
	}
	if err != nil {
		return nil, err
	}

	if !resp.Success() {
		return nil, c.parseError(resp, shipper.KindRateUnavailable)
	}

	var result RateResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, shipper.NewResponseParseError(carrierName, "failed to decode rates response").
			WithCause(err).
			WithPayload(resp.Body)
	}
	result.Body = resp.Body
	return &result, nil
}

// CreateShipment books a shipment via POST /shipments.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error) {
	resp, err := c.doRequest(ctx, carrierhttp.OpBook, cred, http.MethodPost, "/shipments", nil, req)
	if err != nil {
		return nil, err
	}

	if !resp.Success() {
		return nil, c.parseError(resp, shipper.KindBookingRejected)
	}

	var result ShipmentResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, shipper.NewResponseParseError(carrierName, "failed to decode shipment response").
			WithCause(err).
			WithPayload(resp.Body)
	}
	return &result, nil
}

// doRequest performs an authenticated request through the carrier transport.
func (c *HTTPAPIClient) doRequest(ctx context.Context, op carrierhttp.Operation, cred shipper.Credential, method, path string, query url.Values, body interface{}) (*carrierhttp.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", cred.Header())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Message-Reference", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.transport.Do(ctx, op, req)
}

// parseError maps a non-2xx response to a typed error. 401 is a credential
// rejection; everything else is a carrier API error of the given kind.
func (c *HTTPAPIClient) parseError(resp *carrierhttp.Response, kind shipper.ErrorKind) error {
	var apiErr APIError
	message := http.StatusText(resp.StatusCode)
	if err := json.Unmarshal(resp.Body, &apiErr); err == nil {
		if s := apiErr.Summary(); s != "" {
			message = s
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return shipper.NewAuthError(carrierName, message).
			WithRejected(true).
			WithStatusCode(resp.StatusCode).
			WithPayload(resp.Body)
	}

	return shipper.NewCarrierAPIError(carrierName, kind, message).
		WithStatusCode(resp.StatusCode).
		WithPayload(resp.Body)
}

func queryValues(q *RateQuery) url.Values {
	values := url.Values{}
	for k, v := range q.Values() {
		if v != "" {
			values.Set(k, v)
		}
	}
	return values
}

// Ensure HTTPAPIClient implements APIClient.
var _ APIClient = (*HTTPAPIClient)(nil)
