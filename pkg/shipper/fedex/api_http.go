package fedex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/carrierhttp"
)

const (
	tokenPath    = "/oauth/token"
	ratePath     = "/rate/v1/rates/quotes"
	shipmentPath = "/ship/v1/shipments"
)

// TokenURL returns the OAuth token endpoint for baseURL.
func TokenURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + tokenPath
}

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

// GetRates fetches rate quotes from the FedEx Rate API.
func (c *HTTPAPIClient) GetRates(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error) {
	resp, err := c.doRequest(ctx, carrierhttp.OpRate, cred, ratePath, req)
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

// CreateShipment books a shipment with the FedEx Ship API.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error) {
	resp, err := c.doRequest(ctx, carrierhttp.OpBook, cred, shipmentPath, req)
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

// doRequest POSTs body as JSON with the bearer credential.
func (c *HTTPAPIClient) doRequest(ctx context.Context, op carrierhttp.Operation, cred shipper.Credential, path string, body interface{}) (*carrierhttp.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", cred.Header())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-locale", "en_US")
	req.Header.Set("x-customer-transaction-id", uuid.New().String())

	return c.transport.Do(ctx, op, req)
}

// parseError maps a non-2xx response to a typed error. 401 is a credential
// rejection; everything else is a carrier API error of the given kind.
func (c *HTTPAPIClient) parseError(resp *carrierhttp.Response, kind shipper.ErrorKind) error {
	var errResp ErrorResponse
	message := http.StatusText(resp.StatusCode)
	code := ""
	if err := json.Unmarshal(resp.Body, &errResp); err == nil {
		if s := errResp.Summary(); s != "" {
			message = s
		}
		code = errResp.FirstCode()
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return shipper.NewAuthError(carrierName, message).
			WithRejected(true).
			WithStatusCode(resp.StatusCode).
			WithPayload(resp.Body)
	}

	return shipper.NewCarrierAPIError(carrierName, kind, message).
		WithCode(code).
		WithStatusCode(resp.StatusCode).
		WithPayload(resp.Body)
}

// Ensure HTTPAPIClient implements APIClient.
var _ APIClient = (*HTTPAPIClient)(nil)
