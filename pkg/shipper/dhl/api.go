package dhl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// APIClient defines the interface for DHL Express API operations.
// The credential is passed per call so the caller can retry with a fresh one.
type APIClient interface {
	// GetRates fetches product offers for a shipment.
	GetRates(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error)

	// CreateShipment books a shipment and returns labels and documents.
	CreateShipment(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error)
}

// ============================================================================
// Rating
// ============================================================================

// RateRequest is sent as query parameters (single package) or a JSON body
// (multiple packages). Exactly one of Query and Body is set.
type RateRequest struct {
	Query *RateQuery
	Body  *RateBody
}

// RateQuery holds the GET /rates parameters for a single-package rate.
type RateQuery struct {
	AccountNumber          string
	OriginCountryCode      string
	OriginPostalCode       string
	OriginCityName         string
	DestinationCountryCode string
	DestinationPostalCode  string
	DestinationCityName    string
	Weight                 float64
	Length                 float64
	Width                  float64
	Height                 float64
	PlannedShippingDate    string
	IsCustomsDeclarable    bool
	UnitOfMeasurement      string
}

// Values encodes the query as URL parameters.
func (q *RateQuery) Values() map[string]string {
	return map[string]string{
		"accountNumber":          q.AccountNumber,
		"originCountryCode":      q.OriginCountryCode,
		"originPostalCode":       q.OriginPostalCode,
		"originCityName":         q.OriginCityName,
		"destinationCountryCode": q.DestinationCountryCode,
		"destinationPostalCode":  q.DestinationPostalCode,
		"destinationCityName":    q.DestinationCityName,
		"weight":                 formatNumber(q.Weight),
		"length":                 formatNumber(q.Length),
		"width":                  formatNumber(q.Width),
		"height":                 formatNumber(q.Height),
		"plannedShippingDate":    q.PlannedShippingDate,
		"isCustomsDeclarable":    strconv.FormatBool(q.IsCustomsDeclarable),
		"unitOfMeasurement":      q.UnitOfMeasurement,
	}
}

// RateBody is the POST /rates payload.
type RateBody struct {
	CustomerDetails            RateCustomerDetails `json:"customerDetails"`
	Accounts                   []Account           `json:"accounts"`
	ProductCode                string              `json:"productCode,omitempty"`
	PlannedShippingDateAndTime string              `json:"plannedShippingDateAndTime"`
	UnitOfMeasurement          string              `json:"unitOfMeasurement"`
	IsCustomsDeclarable        bool                `json:"isCustomsDeclarable"`
	MonetaryAmount             []MonetaryAmount    `json:"monetaryAmount,omitempty"`
	Packages                   []Package           `json:"packages"`
}

// RateCustomerDetails holds the origin and destination of a rate request.
type RateCustomerDetails struct {
	ShipperDetails  RateAddress `json:"shipperDetails"`
	ReceiverDetails RateAddress `json:"receiverDetails"`
}

// RateAddress is the flat address form used by rating.
type RateAddress struct {
	PostalCode   string `json:"postalCode"`
	CityName     string `json:"cityName"`
	CountryCode  string `json:"countryCode"`
	ProvinceCode string `json:"provinceCode,omitempty"`
	AddressLine1 string `json:"addressLine1,omitempty"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	AddressLine3 string `json:"addressLine3,omitempty"`
}

// Account identifies the DHL account billed for a shipment.
type Account struct {
	TypeCode string `json:"typeCode"`
	Number   string `json:"number"`
}

// MonetaryAmount is a typed amount, e.g. the declared value.
type MonetaryAmount struct {
	TypeCode string  `json:"typeCode"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// Package is one physical piece. DHL has no sequence field on requests.
type Package struct {
	Weight      float64    `json:"weight"`
	Dimensions  Dimensions `json:"dimensions"`
	Description string     `json:"description,omitempty"`
}

// Dimensions in the shipment-level unit system.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RateResponse is the rating reply. Products is nil when the reply omits
// it and empty when DHL offers no product.
type RateResponse struct {
	Products []Product `json:"products"`

	// Body is the raw reply as received.
	Body []byte `json:"-"`
}

// Product is one priced DHL product.
type Product struct {
	ProductName          string               `json:"productName"`
	ProductCode          string               `json:"productCode"`
	TotalPrice           []Price              `json:"totalPrice"`
	DeliveryCapabilities DeliveryCapabilities `json:"deliveryCapabilities"`
}

// Price is a product total in one currency view.
type Price struct {
	CurrencyType  string  `json:"currencyType"`
	PriceCurrency string  `json:"priceCurrency"`
	Price         float64 `json:"price"`
}

// DeliveryCapabilities carries the estimated delivery of a product.
type DeliveryCapabilities struct {
	EstimatedDeliveryDateAndTime string  `json:"estimatedDeliveryDateAndTime,omitempty"`
	TotalTransitDays             FlexInt `json:"totalTransitDays,omitempty"`
}

// FlexInt decodes an integer sent either as a JSON number or a string.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*f = FlexInt(n)
	return nil
}

// ============================================================================
// Shipments
// ============================================================================

// ShipmentRequest is the POST /shipments payload.
type ShipmentRequest struct {
	PlannedShippingDateAndTime string                `json:"plannedShippingDateAndTime"`
	Pickup                     Pickup                `json:"pickup"`
	ProductCode                string                `json:"productCode"`
	Accounts                   []Account             `json:"accounts"`
	CustomerReferences         []CustomerReference   `json:"customerReferences,omitempty"`
	CustomerDetails            CustomerDetails       `json:"customerDetails"`
	Content                    Content               `json:"content"`
	OutputImageProperties      OutputImageProperties `json:"outputImageProperties"`
}

// Pickup controls courier pickup scheduling.
type Pickup struct {
	IsRequested bool `json:"isRequested"`
}

// CustomerReference tags a shipment with a caller reference.
type CustomerReference struct {
	Value    string `json:"value"`
	TypeCode string `json:"typeCode"`
}

// CustomerDetails holds shipper and receiver.
type CustomerDetails struct {
	ShipperDetails  Party `json:"shipperDetails"`
	ReceiverDetails Party `json:"receiverDetails"`
}

// Party is an address with its contact.
type Party struct {
	PostalAddress      PostalAddress      `json:"postalAddress"`
	ContactInformation ContactInformation `json:"contactInformation"`
}

// PostalAddress is a DHL postal address.
type PostalAddress struct {
	PostalCode   string `json:"postalCode,omitempty"`
	CityName     string `json:"cityName"`
	CountryCode  string `json:"countryCode"`
	ProvinceCode string `json:"provinceCode,omitempty"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	AddressLine3 string `json:"addressLine3,omitempty"`
}

// ContactInformation is a DHL contact.
type ContactInformation struct {
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone"`
	CompanyName string `json:"companyName"`
	FullName    string `json:"fullName"`
}

// Content describes what is shipped.
type Content struct {
	Packages              []Package          `json:"packages"`
	IsCustomsDeclarable   bool               `json:"isCustomsDeclarable"`
	DeclaredValue         float64            `json:"declaredValue,omitempty"`
	DeclaredValueCurrency string             `json:"declaredValueCurrency,omitempty"`
	ExportDeclaration     *ExportDeclaration `json:"exportDeclaration,omitempty"`
	Description           string             `json:"description"`
	Incoterm              string             `json:"incoterm,omitempty"`
	UnitOfMeasurement     string             `json:"unitOfMeasurement"`
}

// ExportDeclaration is the customs section of a shipment.
type ExportDeclaration struct {
	LineItems        []LineItem `json:"lineItems"`
	Invoice          Invoice    `json:"invoice"`
	ExportReasonType string     `json:"exportReasonType"`
}

// LineItem is one commodity line.
type LineItem struct {
	Number              int             `json:"number"`
	Description         string          `json:"description"`
	Price               float64         `json:"price"`
	Quantity            Quantity        `json:"quantity"`
	CommodityCodes      []CommodityCode `json:"commodityCodes,omitempty"`
	ExportReasonType    string          `json:"exportReasonType"`
	ManufacturerCountry string          `json:"manufacturerCountry"`
	Weight              LineWeight      `json:"weight"`
}

// Quantity of a commodity line.
type Quantity struct {
	Value             int    `json:"value"`
	UnitOfMeasurement string `json:"unitOfMeasurement"`
}

// CommodityCode is a tariff code.
type CommodityCode struct {
	TypeCode string `json:"typeCode"`
	Value    string `json:"value"`
}

// LineWeight is the net and gross weight of a commodity line.
type LineWeight struct {
	NetValue   float64 `json:"netValue"`
	GrossValue float64 `json:"grossValue"`
}

// Invoice identifies the commercial invoice.
type Invoice struct {
	Number string `json:"number"`
	Date   string `json:"date"`
}

// OutputImageProperties selects returned document formats.
type OutputImageProperties struct {
	EncodingFormat string        `json:"encodingFormat"`
	ImageOptions   []ImageOption `json:"imageOptions,omitempty"`
}

// ImageOption requests one document type.
type ImageOption struct {
	TypeCode     string `json:"typeCode"`
	TemplateName string `json:"templateName,omitempty"`
	IsRequested  bool   `json:"isRequested,omitempty"`
}

// ShipmentResponse is the booking reply.
type ShipmentResponse struct {
	ShipmentTrackingNumber     string            `json:"shipmentTrackingNumber"`
	TrackingURL                string            `json:"trackingUrl,omitempty"`
	DispatchConfirmationNumber string            `json:"dispatchConfirmationNumber,omitempty"`
	Packages                   []ShipmentPackage `json:"packages,omitempty"`
	Documents                  []Document        `json:"documents,omitempty"`
}

// ShipmentPackage is a booked piece. ReferenceNumber is 1-based.
type ShipmentPackage struct {
	ReferenceNumber int    `json:"referenceNumber"`
	TrackingNumber  string `json:"trackingNumber"`
	TrackingURL     string `json:"trackingUrl,omitempty"`
}

// Document is a base64-encoded label, invoice or waybill.
type Document struct {
	ImageFormat string `json:"imageFormat"`
	Content     string `json:"content"`
	TypeCode    string `json:"typeCode"`
}

// ============================================================================
// Errors
// ============================================================================

// APIError is the problem-details body DHL returns on failure.
type APIError struct {
	Instance          string   `json:"instance,omitempty"`
	Title             string   `json:"title,omitempty"`
	Detail            string   `json:"detail,omitempty"`
	Message           string   `json:"message,omitempty"`
	AdditionalDetails []string `json:"additionalDetails,omitempty"`
}

// Summary returns the most specific message in the body.
func (e *APIError) Summary() string {
	parts := make([]string, 0, 2+len(e.AdditionalDetails))
	for _, s := range []string{e.Title, e.Detail} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 && e.Message != "" {
		parts = append(parts, e.Message)
	}
	parts = append(parts, e.AdditionalDetails...)
	return strings.Join(parts, ": ")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ json.Unmarshaler = (*FlexInt)(nil)
