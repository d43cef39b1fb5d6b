package fedex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/validation"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	dateLayout   = "2006-01-02"
	commitLayout = "2006-01-02T15:04:05"

	serviceInternational = "INTERNATIONAL_PRIORITY"
	serviceDomestic      = "FEDEX_GROUND"
	pickupType           = "DROPOFF_AT_FEDEX_LOCATION"
	packagingType        = "YOUR_PACKAGING"

	maxReference = 30

	trackingURLFormat = "https://www.fedex.com/fedextrack/?trknbr=%s"
)

// Limits are FedEx field limits. The transformer truncates to them; the
// validator rejects requests that exceed them.
var Limits = validation.Constraints{
	MaxStreetLines:       3,
	MaxStreetLineLength:  35,
	MaxCityLength:        35,
	MaxNameLength:        70,
	MaxCompanyLength:     35,
	MaxPhoneLength:       15,
	MaxDescriptionLength: 450,
}

const (
	defaultDutiesPayment   = "SENDER"
	defaultShipmentPurpose = "SOLD"
)

var dutiesPaymentTypes = map[shipper.DutiesPayer]string{
	shipper.DutiesSender:     "SENDER",
	shipper.DutiesRecipient:  "RECIPIENT",
	shipper.DutiesThirdParty: "THIRD_PARTY",
}

var shipmentPurposes = map[shipper.ShipmentPurpose]string{
	shipper.PurposeSold:            "SOLD",
	shipper.PurposeGift:            "GIFT",
	shipper.PurposeSample:          "SAMPLE",
	shipper.PurposeRepair:          "REPAIR_AND_RETURN",
	shipper.PurposeReturn:          "REPAIR_AND_RETURN",
	shipper.PurposePersonalEffects: "PERSONAL_EFFECTS",
	shipper.PurposeNotSold:         "NOT_SOLD",
}

var documentTypes = map[string]shipper.DocumentType{
	"LABEL":              shipper.DocumentLabel,
	"COMMERCIAL_INVOICE": shipper.DocumentInvoice,
	"AIR_WAYBILL":        shipper.DocumentWaybill,
}

var transitTimes = map[string]int{
	"ONE_DAY":       1,
	"TWO_DAYS":      2,
	"THREE_DAYS":    3,
	"FOUR_DAYS":     4,
	"FIVE_DAYS":     5,
	"SIX_DAYS":      6,
	"SEVEN_DAYS":    7,
	"EIGHT_DAYS":    8,
	"NINE_DAYS":     9,
	"TEN_DAYS":      10,
	"ELEVEN_DAYS":   11,
	"TWELVE_DAYS":   12,
	"THIRTEEN_DAYS": 13,
	"FOURTEEN_DAYS": 14,
}

// DutiesPaymentTypeFor returns the FedEx duties payment type for a payer,
// and false when the payer is unmapped and the default was used.
func DutiesPaymentTypeFor(payer shipper.DutiesPayer) (string, bool) {
	if code, ok := dutiesPaymentTypes[payer]; ok {
		return code, true
	}
	return defaultDutiesPayment, false
}

// ShipmentPurposeFor returns the FedEx shipment purpose, and false when the
// purpose is unmapped and the default was used.
func ShipmentPurposeFor(purpose shipper.ShipmentPurpose) (string, bool) {
	if code, ok := shipmentPurposes[purpose]; ok {
		return code, true
	}
	return defaultShipmentPurpose, false
}

// Transformer converts between the canonical model and FedEx wire types.
type Transformer struct {
	accountNumber string
	logger        *otelzap.Logger
}

// NewTransformer creates a transformer billing accountNumber.
func NewTransformer(accountNumber string, logger *otelzap.Logger) *Transformer {
	return &Transformer{accountNumber: accountNumber, logger: logger}
}

// ToRateRequest builds the rate quote payload.
func (t *Transformer) ToRateRequest(req *shipper.ShipmentRequest) (*RateRequest, error) {
	items, err := lineItems(req)
	if err != nil {
		return nil, err
	}

	return &RateRequest{
		AccountNumber:                AccountNumber{Value: t.accountNumber},
		RateRequestControlParameters: RateRequestControlParameters{ReturnTransitTimes: true},
		RequestedShipment: RateShipment{
			Shipper:                   Party{Address: addressToAPI(req.Shipper.Address)},
			Recipient:                 Party{Address: addressToAPI(req.Receiver.Address)},
			ShipDateStamp:             req.PlannedShipAt.Format(dateLayout),
			ServiceType:               req.ServiceCode,
			PickupType:                pickupType,
			RateRequestType:           []string{"ACCOUNT", "LIST"},
			CustomsClearanceDetail:    t.customs(req),
			TotalPackageCount:         len(items),
			RequestedPackageLineItems: items,
		},
	}, nil
}

// FromRateResponse converts rate reply details to quotes with commit dates
// read as UTC. An empty rateReplyDetails list is not an error; a missing one is.
func (t *Transformer) FromRateResponse(resp *RateResponse) ([]shipper.RateQuote, error) {
	return t.FromRateResponseIn(resp, time.UTC)
}

// FromRateResponseIn is FromRateResponse with commit dates, which FedEx
// sends without an offset, read as wall clock in loc.
func (t *Transformer) FromRateResponseIn(resp *RateResponse, loc *time.Location) ([]shipper.RateQuote, error) {
	if resp == nil {
		return nil, shipper.NewResponseParseError(carrierName, "empty rates response")
	}
	if resp.Output == nil || resp.Output.RateReplyDetails == nil {
		return nil, shipper.NewResponseParseError(carrierName, "rates response has no output.rateReplyDetails").
			WithPayload(resp.Body)
	}

	details := resp.Output.RateReplyDetails
	quotes := make([]shipper.RateQuote, 0, len(details))
	for _, d := range details {
		charge, ok := accountCharge(d.RatedShipmentDetails)
		if !ok {
			t.logger.Warn("Skipping FedEx service without charge", zap.String("service_type", d.ServiceType))
			continue
		}

		raw, _ := json.Marshal(d)
		quote := shipper.RateQuote{
			Carrier:     carrierName,
			ServiceName: d.ServiceName,
			ServiceCode: d.ServiceType,
			TotalPrice:  shipper.Money{Amount: charge.TotalNetCharge, Currency: charge.Currency},
			Raw:         raw,
		}
		if d.Commit != nil {
			if d.Commit.DateDetail != nil && d.Commit.DateDetail.DayFormat != "" {
				if eta, err := time.ParseInLocation(commitLayout, d.Commit.DateDetail.DayFormat, loc); err == nil {
					quote.EstimatedDelivery = &eta
				}
			}
			if d.Commit.TransitDays != nil {
				quote.TransitDays = transitTimes[d.Commit.TransitDays.MinimumTransitTime]
			}
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// ToBookingRequest builds the shipment payload.
func (t *Transformer) ToBookingRequest(req *shipper.ShipmentRequest) (*ShipmentRequest, error) {
	items, err := lineItems(req)
	if err != nil {
		return nil, err
	}
	if req.Reference != "" {
		ref := []CustomerReference{{
			CustomerReferenceType: "CUSTOMER_REFERENCE",
			Value:                 shipper.Truncate(req.Reference, maxReference),
		}}
		for i := range items {
			items[i].CustomerReferences = ref
		}
	}

	serviceType := req.ServiceCode
	if serviceType == "" {
		serviceType = serviceDomestic
		if req.CrossBorder() {
			serviceType = serviceInternational
		}
	}

	body := &ShipmentRequest{
		LabelResponseOptions: "LABEL",
		AccountNumber:        AccountNumber{Value: t.accountNumber},
		RequestedShipment: RequestedShipment{
			Shipper:                   partyToAPI(req.Shipper),
			Recipients:                []Party{partyToAPI(req.Receiver)},
			ShipDatestamp:             req.PlannedShipAt.Format(dateLayout),
			ServiceType:               serviceType,
			PackagingType:             packagingType,
			PickupType:                pickupType,
			ShippingChargesPayment:    Payment{PaymentType: "SENDER"},
			LabelSpecification:        LabelSpecification{ImageType: "PDF", LabelStockType: "PAPER_85X11_TOP_HALF_LABEL"},
			CustomsClearanceDetail:    t.customs(req),
			TotalPackageCount:         len(items),
			RequestedPackageLineItems: items,
		},
	}
	if body.RequestedShipment.CustomsClearanceDetail != nil {
		body.RequestedShipment.ShippingDocumentSpecification = &ShippingDocumentSpecification{
			ShippingDocumentTypes: []string{"COMMERCIAL_INVOICE"},
		}
	}
	return body, nil
}

// FromBookingResponse converts the first transaction shipment. A reply
// without one, or without a master tracking number, is a parse error.
func (t *Transformer) FromBookingResponse(resp *ShipmentResponse) (*shipper.BookingResult, error) {
	if resp == nil || len(resp.Output.TransactionShipments) == 0 {
		payload, _ := json.Marshal(resp)
		return nil, shipper.NewResponseParseError(carrierName, "response contains no transaction shipment").
			WithPayload(payload)
	}

	ts := resp.Output.TransactionShipments[0]
	if ts.MasterTrackingNumber == "" {
		payload, _ := json.Marshal(resp)
		return nil, shipper.NewResponseParseError(carrierName, "response missing masterTrackingNumber").
			WithPayload(payload)
	}

	result := &shipper.BookingResult{
		Carrier:           carrierName,
		TrackingNumber:    ts.MasterTrackingNumber,
		DispatchReference: resp.TransactionID,
		TrackingURL:       fmt.Sprintf(trackingURLFormat, ts.MasterTrackingNumber),
	}

	for _, piece := range ts.PieceResponses {
		if piece.TrackingNumber != "" {
			result.PackageTrackingNumbers = append(result.PackageTrackingNumbers, piece.TrackingNumber)
		}
		for _, doc := range piece.PackageDocuments {
			if err := t.appendDocument(result, doc); err != nil {
				return nil, err
			}
		}
	}
	for _, doc := range ts.ShipmentDocuments {
		if err := t.appendDocument(result, doc); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (t *Transformer) appendDocument(result *shipper.BookingResult, doc PackageDocument) error {
	docType, ok := documentTypes[doc.ContentType]
	if !ok || doc.EncodedLabel == "" {
		t.logger.Debug("Ignoring FedEx document",
			zap.String("content_type", doc.ContentType),
			zap.Bool("has_content", doc.EncodedLabel != ""),
		)
		return nil
	}

	content, err := base64.StdEncoding.DecodeString(doc.EncodedLabel)
	if err != nil {
		return shipper.NewResponseParseError(carrierName, fmt.Sprintf("document %s is not valid base64", doc.ContentType)).
			WithCause(err)
	}
	result.Documents = append(result.Documents, shipper.Document{
		Format:  strings.ToUpper(doc.DocType),
		Content: content,
		Type:    docType,
	})
	return nil
}

func (t *Transformer) customs(req *shipper.ShipmentRequest) *CustomsClearanceDetail {
	c := req.Customs
	if c == nil || !req.CrossBorder() {
		return nil
	}

	commodities := make([]Commodity, len(c.Lines))
	for i, l := range c.Lines {
		unit := l.QuantityUnit
		if unit == "" {
			unit = "PCS"
		}
		commodities[i] = Commodity{
			Description:          shipper.Truncate(l.Description, Limits.MaxDescriptionLength),
			CountryOfManufacture: l.ManufactureCountry,
			Quantity:             l.Quantity,
			QuantityUnits:        unit,
			UnitPrice:            moneyToAPI(l.UnitPrice),
			CustomsValue: Money{
				Amount:   round(l.UnitPrice.Amount*float64(l.Quantity), 2),
				Currency: l.UnitPrice.Currency,
			},
			Weight:         weightToAPI(l.NetWeight),
			HarmonizedCode: l.HSCode,
		}
	}

	declared := moneyToAPI(c.DeclaredValue)
	return &CustomsClearanceDetail{
		DutiesPayment: Payment{PaymentType: t.dutiesPayment(c.DutiesPayer)},
		CommercialInvoice: &CommercialInvoice{
			ShipmentPurpose: t.shipmentPurpose(c.Purpose),
			CustomerReferences: []CustomerReference{{
				CustomerReferenceType: "INVOICE_NUMBER",
				Value:                 c.Invoice.Number,
			}},
		},
		Commodities:       commodities,
		TotalCustomsValue: &declared,
	}
}

func (t *Transformer) dutiesPayment(payer shipper.DutiesPayer) string {
	code, ok := DutiesPaymentTypeFor(payer)
	if !ok {
		t.logger.Warn("Unmapped duties payer, using default payment type",
			zap.String("duties_payer", string(payer)),
			zap.String("payment_type", code),
		)
	}
	return code
}

func (t *Transformer) shipmentPurpose(purpose shipper.ShipmentPurpose) string {
	code, ok := ShipmentPurposeFor(purpose)
	if !ok {
		t.logger.Warn("Unmapped shipment purpose, using default",
			zap.String("purpose", string(purpose)),
			zap.String("shipment_purpose", code),
		)
	}
	return code
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func addressToAPI(addr shipper.Address) Address {
	return Address{
		StreetLines:         shipper.TruncateLines(addr.StreetLines, Limits.MaxStreetLines, Limits.MaxStreetLineLength),
		City:                shipper.Truncate(addr.City, Limits.MaxCityLength),
		StateOrProvinceCode: addr.RegionCode,
		PostalCode:          addr.PostalCode,
		CountryCode:         addr.CountryCode,
	}
}

func partyToAPI(party shipper.ShipmentParty) Party {
	return Party{
		Contact: &Contact{
			PersonName:   shipper.Truncate(party.Contact.Name, Limits.MaxNameLength),
			PhoneNumber:  shipper.Truncate(party.Contact.Phone, Limits.MaxPhoneLength),
			CompanyName:  shipper.Truncate(party.Contact.Company, Limits.MaxCompanyLength),
			EmailAddress: party.Contact.Email,
		},
		Address: addressToAPI(party.Address),
	}
}

// lineItems expands packages and numbers them 1..N across the whole list.
func lineItems(req *shipper.ShipmentRequest) ([]PackageLineItem, error) {
	pkgs := shipper.ExpandPackages(req.Packages)
	if len(pkgs) == 0 {
		return nil, &shipper.ValidationError{
			Carrier:    carrierName,
			Violations: []shipper.FieldViolation{{Field: "packages", Message: "must contain at least one package"}},
		}
	}

	items := make([]PackageLineItem, len(pkgs))
	for i, p := range pkgs {
		items[i] = PackageLineItem{
			SequenceNumber: i + 1,
			Weight:         weightToAPI(p.Weight),
			Dimensions: &Dimensions{
				Length: wholeUnits(p.Dimensions.Length),
				Width:  wholeUnits(p.Dimensions.Width),
				Height: wholeUnits(p.Dimensions.Height),
				Units:  dimensionUnits(p.Dimensions.Unit),
			},
			ItemDescription: p.Description,
		}
	}
	return items, nil
}

func weightToAPI(w shipper.Weight) Weight {
	units := "KG"
	if w.Unit == shipper.WeightLB {
		units = "LB"
	}
	return Weight{Units: units, Value: w.Value}
}

func dimensionUnits(u shipper.DimensionUnit) string {
	if u == shipper.DimensionIN {
		return "IN"
	}
	return "CM"
}

// wholeUnits rounds a dimension up to the next whole unit.
func wholeUnits(v float64) int {
	return int(math.Ceil(v))
}

func moneyToAPI(m shipper.Money) Money {
	return Money{Amount: m.Amount, Currency: m.Currency}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

// accountCharge prefers the account rate over list.
func accountCharge(details []RatedShipmentDetail) (RatedShipmentDetail, bool) {
	for _, d := range details {
		if d.RateType == "ACCOUNT" && d.Currency != "" {
			return d, true
		}
	}
	for _, d := range details {
		if d.Currency != "" {
			return d, true
		}
	}
	return RatedShipmentDetail{}, false
}

// Ensure Transformer implements the shipper transformer contract.
var _ shipper.Transformer[*RateRequest, *RateResponse, *ShipmentRequest, *ShipmentResponse] = (*Transformer)(nil)
