package fedex

import (
	"context"
	"strings"

	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// APIClient defines the interface for FedEx REST API operations.
// The credential is passed per call so the caller can retry with a fresh one.
type APIClient interface {
	// GetRates fetches rate quotes for a shipment.
	GetRates(ctx context.Context, cred shipper.Credential, req *RateRequest) (*RateResponse, error)

	// CreateShipment books a shipment and returns labels and documents.
	CreateShipment(ctx context.Context, cred shipper.Credential, req *ShipmentRequest) (*ShipmentResponse, error)
}

// ============================================================================
// Shared types
// ============================================================================

// AccountNumber wraps the billing account.
type AccountNumber struct {
	Value string `json:"value"`
}

// Address is a FedEx postal address.
type Address struct {
	StreetLines         []string `json:"streetLines,omitempty"`
	City                string   `json:"city"`
	StateOrProvinceCode string   `json:"stateOrProvinceCode,omitempty"`
	PostalCode          string   `json:"postalCode,omitempty"`
	CountryCode         string   `json:"countryCode"`
}

// Contact is a FedEx contact.
type Contact struct {
	PersonName   string `json:"personName"`
	PhoneNumber  string `json:"phoneNumber"`
	CompanyName  string `json:"companyName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Party is an address with an optional contact.
type Party struct {
	Contact *Contact `json:"contact,omitempty"`
	Address Address  `json:"address"`
}

// Weight pairs a value with its own units.
type Weight struct {
	Units string  `json:"units"`
	Value float64 `json:"value"`
}

// Dimensions are whole units paired with their own units field.
type Dimensions struct {
	Length int    `json:"length"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Units  string `json:"units"`
}

// Money is an amount with its currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// PackageLineItem is one physical piece. SequenceNumber is 1-based across
// the whole expanded list.
type PackageLineItem struct {
	SequenceNumber     int                 `json:"sequenceNumber"`
	Weight             Weight              `json:"weight"`
	Dimensions         *Dimensions         `json:"dimensions,omitempty"`
	ItemDescription    string              `json:"itemDescription,omitempty"`
	CustomerReferences []CustomerReference `json:"customerReferences,omitempty"`
}

// CustomerReference tags a package with a caller reference.
type CustomerReference struct {
	CustomerReferenceType string `json:"customerReferenceType"`
	Value                 string `json:"value"`
}

// Payment identifies who pays.
type Payment struct {
	PaymentType string `json:"paymentType"`
}

// CustomsClearanceDetail is the customs section of a request.
type CustomsClearanceDetail struct {
	DutiesPayment     Payment            `json:"dutiesPayment"`
	IsDocumentOnly    bool               `json:"isDocumentOnly"`
	CommercialInvoice *CommercialInvoice `json:"commercialInvoice,omitempty"`
	Commodities       []Commodity        `json:"commodities"`
	TotalCustomsValue *Money             `json:"totalCustomsValue,omitempty"`
}

// CommercialInvoice carries the shipment purpose.
type CommercialInvoice struct {
	ShipmentPurpose    string              `json:"shipmentPurpose"`
	CustomerReferences []CustomerReference `json:"customerReferences,omitempty"`
}

// Commodity is one customs line.
type Commodity struct {
	Description          string `json:"description"`
	CountryOfManufacture string `json:"countryOfManufacture"`
	Quantity             int    `json:"quantity"`
	QuantityUnits        string `json:"quantityUnits"`
	UnitPrice            Money  `json:"unitPrice"`
	CustomsValue         Money  `json:"customsValue"`
	Weight               Weight `json:"weight"`
	HarmonizedCode       string `json:"harmonizedCode,omitempty"`
}

// ============================================================================
// Rating
// ============================================================================

// RateRequest is the POST /rate/v1/rates/quotes payload.
type RateRequest struct {
	AccountNumber                AccountNumber                `json:"accountNumber"`
	RateRequestControlParameters RateRequestControlParameters `json:"rateRequestControlParameters"`
	RequestedShipment            RateShipment                 `json:"requestedShipment"`
}

// RateRequestControlParameters toggles optional rate reply content.
type RateRequestControlParameters struct {
	ReturnTransitTimes bool `json:"returnTransitTimes"`
}

// RateShipment is the shipment section of a rate request.
type RateShipment struct {
	Shipper                   Party                   `json:"shipper"`
	Recipient                 Party                   `json:"recipient"`
	ShipDateStamp             string                  `json:"shipDateStamp"`
	ServiceType               string                  `json:"serviceType,omitempty"`
	PickupType                string                  `json:"pickupType"`
	RateRequestType           []string                `json:"rateRequestType"`
	CustomsClearanceDetail    *CustomsClearanceDetail `json:"customsClearanceDetail,omitempty"`
	TotalPackageCount         int                     `json:"totalPackageCount"`
	RequestedPackageLineItems []PackageLineItem       `json:"requestedPackageLineItems"`
}

// RateResponse is the rating reply. Output is nil when the reply omits it.
type RateResponse struct {
	TransactionID string      `json:"transactionId,omitempty"`
	Output        *RateOutput `json:"output"`

	// Body is the raw reply as received.
	Body []byte `json:"-"`
}

// RateOutput holds the rate reply details. RateReplyDetails is nil when
// absent and empty when the carrier returned no services.
type RateOutput struct {
	RateReplyDetails []RateReplyDetail `json:"rateReplyDetails"`
}

// RateReplyDetail is one priced service.
type RateReplyDetail struct {
	ServiceType          string                `json:"serviceType"`
	ServiceName          string                `json:"serviceName"`
	RatedShipmentDetails []RatedShipmentDetail `json:"ratedShipmentDetails"`
	Commit               *Commit               `json:"commit,omitempty"`
}

// RatedShipmentDetail is the charge for one rate type.
type RatedShipmentDetail struct {
	RateType       string  `json:"rateType"`
	TotalNetCharge float64 `json:"totalNetCharge"`
	Currency       string  `json:"currency"`
}

// Commit is the delivery commitment of a service.
type Commit struct {
	DateDetail  *DateDetail  `json:"dateDetail,omitempty"`
	TransitDays *TransitDays `json:"transitDays,omitempty"`
}

// DateDetail carries the committed delivery date.
type DateDetail struct {
	DayFormat string `json:"dayFormat"`
}

// TransitDays carries the transit time enumeration, e.g. TWO_DAYS.
type TransitDays struct {
	MinimumTransitTime string `json:"minimumTransitTime"`
}

// ============================================================================
// Shipments
// ============================================================================

// ShipmentRequest is the POST /ship/v1/shipments payload.
type ShipmentRequest struct {
	LabelResponseOptions string            `json:"labelResponseOptions"`
	AccountNumber        AccountNumber     `json:"accountNumber"`
	RequestedShipment    RequestedShipment `json:"requestedShipment"`
}

// RequestedShipment is the shipment section of a booking.
type RequestedShipment struct {
	Shipper                       Party                          `json:"shipper"`
	Recipients                    []Party                        `json:"recipients"`
	ShipDatestamp                 string                         `json:"shipDatestamp"`
	ServiceType                   string                         `json:"serviceType"`
	PackagingType                 string                         `json:"packagingType"`
	PickupType                    string                         `json:"pickupType"`
	ShippingChargesPayment        Payment                        `json:"shippingChargesPayment"`
	LabelSpecification            LabelSpecification             `json:"labelSpecification"`
	CustomsClearanceDetail        *CustomsClearanceDetail        `json:"customsClearanceDetail,omitempty"`
	ShippingDocumentSpecification *ShippingDocumentSpecification `json:"shippingDocumentSpecification,omitempty"`
	TotalPackageCount             int                            `json:"totalPackageCount"`
	RequestedPackageLineItems     []PackageLineItem              `json:"requestedPackageLineItems"`
}

// LabelSpecification selects the label format.
type LabelSpecification struct {
	ImageType      string `json:"imageType"`
	LabelStockType string `json:"labelStockType"`
}

// ShippingDocumentSpecification requests shipment-level documents.
type ShippingDocumentSpecification struct {
	ShippingDocumentTypes []string `json:"shippingDocumentTypes"`
}

// ShipmentResponse is the booking reply.
type ShipmentResponse struct {
	TransactionID string         `json:"transactionId,omitempty"`
	Output        ShipmentOutput `json:"output"`
}

// ShipmentOutput holds the booked transaction shipments.
type ShipmentOutput struct {
	TransactionShipments []TransactionShipment `json:"transactionShipments"`
}

// TransactionShipment is one booked shipment.
type TransactionShipment struct {
	MasterTrackingNumber string            `json:"masterTrackingNumber"`
	ServiceType          string            `json:"serviceType,omitempty"`
	ShipDatestamp        string            `json:"shipDatestamp,omitempty"`
	PieceResponses       []PieceResponse   `json:"pieceResponses"`
	ShipmentDocuments    []PackageDocument `json:"shipmentDocuments,omitempty"`
}

// PieceResponse is one booked package.
type PieceResponse struct {
	MasterTrackingNumber  string            `json:"masterTrackingNumber,omitempty"`
	TrackingNumber        string            `json:"trackingNumber"`
	PackageSequenceNumber int               `json:"packageSequenceNumber,omitempty"`
	PackageDocuments      []PackageDocument `json:"packageDocuments,omitempty"`
}

// PackageDocument is a base64-encoded label or shipment document.
type PackageDocument struct {
	ContentType  string `json:"contentType"`
	DocType      string `json:"docType"`
	EncodedLabel string `json:"encodedLabel,omitempty"`
	URL          string `json:"url,omitempty"`
}

// ============================================================================
// Errors
// ============================================================================

// ErrorResponse is the body FedEx returns on failure.
type ErrorResponse struct {
	TransactionID string     `json:"transactionId,omitempty"`
	Errors        []APIError `json:"errors"`
}

// APIError is one FedEx error entry.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Summary joins all error messages.
func (r *ErrorResponse) Summary() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// FirstCode returns the first error code, if any.
func (r *ErrorResponse) FirstCode() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Code
}
