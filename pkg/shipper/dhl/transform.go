package dhl

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/validation"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const (
	// DHL expects the literal "GMT" before the offset.
	dateTimeLayout = "2006-01-02T15:04:05 GMT-07:00"
	dateLayout     = "2006-01-02"
	deliveryLayout = "2006-01-02T15:04:05"

	unitMetric   = "metric"
	unitImperial = "imperial"

	productInternational = "P"
	productDomestic      = "N"
	labelTemplate        = "ECOM26_84_001"

	maxShipmentDescription = 70
	maxReference           = 35

	kgPerLb = 0.45359237
	cmPerIn = 2.54

	trackingURLFormat = "https://www.dhl.com/en/express/tracking.html?AWB=%s"
)

// Limits are DHL Express field limits. The transformer truncates to them;
// the validator rejects requests that exceed them.
var Limits = validation.Constraints{
	MaxStreetLines:       3,
	MaxStreetLineLength:  45,
	MaxCityLength:        45,
	MaxNameLength:        255,
	MaxCompanyLength:     100,
	MaxPhoneLength:       70,
	MaxDescriptionLength: 512,
}

const (
	defaultIncoterm     = "DAP"
	defaultExportReason = "commercial_purpose_or_sale"
)

var incoterms = map[shipper.DutiesPayer]string{
	shipper.DutiesSender:     "DDP",
	shipper.DutiesThirdParty: "DDP",
	shipper.DutiesRecipient:  "DAP",
}

var exportReasons = map[shipper.ShipmentPurpose]string{
	shipper.PurposeSold:            "commercial_purpose_or_sale",
	shipper.PurposeGift:            "gift",
	shipper.PurposeSample:          "sample",
	shipper.PurposeRepair:          "warranty_replacement",
	shipper.PurposeReturn:          "return_to_origin",
	shipper.PurposePersonalEffects: "personal_belongings_or_personal_use",
	shipper.PurposeNotSold:         "permanent",
}

var documentTypes = map[string]shipper.DocumentType{
	"label":      shipper.DocumentLabel,
	"invoice":    shipper.DocumentInvoice,
	"waybillDoc": shipper.DocumentWaybill,
}

// IncotermFor returns the DHL incoterm for a duties payer, and false when
// the payer is unmapped and the default was used.
func IncotermFor(payer shipper.DutiesPayer) (string, bool) {
	if code, ok := incoterms[payer]; ok {
		return code, true
	}
	return defaultIncoterm, false
}

// ExportReasonTypeFor returns the DHL export reason type for a purpose, and
// false when the purpose is unmapped and the default was used.
func ExportReasonTypeFor(purpose shipper.ShipmentPurpose) (string, bool) {
	if code, ok := exportReasons[purpose]; ok {
		return code, true
	}
	return defaultExportReason, false
}

// Transformer converts between the canonical model and DHL Express wire types.
type Transformer struct {
	accountNumber string
	logger        *otelzap.Logger
}

// NewTransformer creates a transformer billing accountNumber.
func NewTransformer(accountNumber string, logger *otelzap.Logger) *Transformer {
	return &Transformer{accountNumber: accountNumber, logger: logger}
}

// ToRateRequest builds a GET query for a single package and a POST body otherwise.
func (t *Transformer) ToRateRequest(req *shipper.ShipmentRequest) (*RateRequest, error) {
	pkgs := shipper.ExpandPackages(req.Packages)
	if len(pkgs) == 0 {
		return nil, noPackages()
	}
	system := unitSystem(pkgs)
	declarable := req.CrossBorder()

	if len(pkgs) == 1 {
		p := toPackage(pkgs[0], system)
		return &RateRequest{Query: &RateQuery{
			AccountNumber:          t.accountNumber,
			OriginCountryCode:      req.Shipper.Address.CountryCode,
			OriginPostalCode:       req.Shipper.Address.PostalCode,
			OriginCityName:         shipper.Truncate(req.Shipper.Address.City, Limits.MaxCityLength),
			DestinationCountryCode: req.Receiver.Address.CountryCode,
			DestinationPostalCode:  req.Receiver.Address.PostalCode,
			DestinationCityName:    shipper.Truncate(req.Receiver.Address.City, Limits.MaxCityLength),
			Weight:                 p.Weight,
			Length:                 p.Dimensions.Length,
			Width:                  p.Dimensions.Width,
			Height:                 p.Dimensions.Height,
			PlannedShippingDate:    req.PlannedShipAt.Format(dateLayout),
			IsCustomsDeclarable:    declarable,
			UnitOfMeasurement:      system,
		}}, nil
	}

	body := &RateBody{
		CustomerDetails: RateCustomerDetails{
			ShipperDetails:  rateAddress(req.Shipper.Address),
			ReceiverDetails: rateAddress(req.Receiver.Address),
		},
		Accounts:                   t.accounts(),
		ProductCode:                req.ServiceCode,
		PlannedShippingDateAndTime: req.PlannedShipAt.Format(dateTimeLayout),
		UnitOfMeasurement:          system,
		IsCustomsDeclarable:        declarable,
		Packages:                   toPackages(pkgs, system),
	}
	if req.Customs != nil && declarable {
		body.MonetaryAmount = []MonetaryAmount{{
			TypeCode: "declaredValue",
			Value:    req.Customs.DeclaredValue.Amount,
			Currency: req.Customs.DeclaredValue.Currency,
		}}
	}
	return &RateRequest{Body: body}, nil
}

// FromRateResponse converts DHL products to quotes with delivery estimates
// read as UTC. An empty products list is not an error; a missing one is.
func (t *Transformer) FromRateResponse(resp *RateResponse) ([]shipper.RateQuote, error) {
	return t.FromRateResponseIn(resp, time.UTC)
}

// FromRateResponseIn is FromRateResponse with delivery estimates, which DHL
// sends without an offset, read as wall clock in loc.
func (t *Transformer) FromRateResponseIn(resp *RateResponse, loc *time.Location) ([]shipper.RateQuote, error) {
	if resp == nil {
		return nil, shipper.NewResponseParseError(carrierName, "empty rates response")
	}
	if resp.Products == nil {
		return nil, shipper.NewResponseParseError(carrierName, "rates response has no products").
			WithPayload(resp.Body)
	}

	quotes := make([]shipper.RateQuote, 0, len(resp.Products))
	for _, p := range resp.Products {
		price, ok := billingPrice(p.TotalPrice)
		if !ok {
			t.logger.Warn("Skipping DHL product without price", zap.String("product_code", p.ProductCode))
			continue
		}

		raw, _ := json.Marshal(p)
		quote := shipper.RateQuote{
			Carrier:     carrierName,
			ServiceName: p.ProductName,
			ServiceCode: p.ProductCode,
			TotalPrice:  shipper.Money{Amount: price.Price, Currency: price.PriceCurrency},
			TransitDays: int(p.DeliveryCapabilities.TotalTransitDays),
			Raw:         raw,
		}
		if ts := p.DeliveryCapabilities.EstimatedDeliveryDateAndTime; ts != "" {
			if eta, err := time.ParseInLocation(deliveryLayout, ts, loc); err == nil {
				quote.EstimatedDelivery = &eta
			}
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// ToBookingRequest builds the POST /shipments payload.
func (t *Transformer) ToBookingRequest(req *shipper.ShipmentRequest) (*ShipmentRequest, error) {
	pkgs := shipper.ExpandPackages(req.Packages)
	if len(pkgs) == 0 {
		return nil, noPackages()
	}
	system := unitSystem(pkgs)
	crossBorder := req.CrossBorder()

	productCode := req.ServiceCode
	if productCode == "" {
		productCode = productDomestic
		if crossBorder {
			productCode = productInternational
		}
	}

	body := &ShipmentRequest{
		PlannedShippingDateAndTime: req.PlannedShipAt.Format(dateTimeLayout),
		ProductCode:                productCode,
		Accounts:                   t.accounts(),
		CustomerDetails: CustomerDetails{
			ShipperDetails:  partyToAPI(req.Shipper),
			ReceiverDetails: partyToAPI(req.Receiver),
		},
		Content: Content{
			Packages:            toPackages(pkgs, system),
			IsCustomsDeclarable: crossBorder,
			Description:         shipper.Truncate(description(req), maxShipmentDescription),
			UnitOfMeasurement:   system,
		},
		OutputImageProperties: OutputImageProperties{
			EncodingFormat: "pdf",
			ImageOptions:   []ImageOption{{TypeCode: "label", TemplateName: labelTemplate}},
		},
	}
	if req.Reference != "" {
		body.CustomerReferences = []CustomerReference{{
			Value:    shipper.Truncate(req.Reference, maxReference),
			TypeCode: "CU",
		}}
	}

	if c := req.Customs; c != nil && crossBorder {
		reason := t.exportReason(c.Purpose)
		body.Content.DeclaredValue = c.DeclaredValue.Amount
		body.Content.DeclaredValueCurrency = c.DeclaredValue.Currency
		body.Content.Incoterm = t.incoterm(c.DutiesPayer)
		body.Content.ExportDeclaration = &ExportDeclaration{
			LineItems:        lineItems(c.Lines, reason, system),
			Invoice:          invoiceToAPI(c.Invoice, req.PlannedShipAt),
			ExportReasonType: reason,
		}
		body.OutputImageProperties.ImageOptions = append(body.OutputImageProperties.ImageOptions,
			ImageOption{TypeCode: "invoice", IsRequested: true})
	}

	return body, nil
}

// FromBookingResponse converts the DHL booking reply. A reply without a
// shipment tracking number is a parse error.
func (t *Transformer) FromBookingResponse(resp *ShipmentResponse) (*shipper.BookingResult, error) {
	if resp == nil || resp.ShipmentTrackingNumber == "" {
		payload, _ := json.Marshal(resp)
		return nil, shipper.NewResponseParseError(carrierName, "response missing shipmentTrackingNumber").
			WithPayload(payload)
	}

	result := &shipper.BookingResult{
		Carrier:           carrierName,
		TrackingNumber:    resp.ShipmentTrackingNumber,
		DispatchReference: resp.DispatchConfirmationNumber,
		TrackingURL:       resp.TrackingURL,
	}
	if result.TrackingURL == "" {
		result.TrackingURL = fmt.Sprintf(trackingURLFormat, resp.ShipmentTrackingNumber)
	}

	pieces := slices.Clone(resp.Packages)
	slices.SortStableFunc(pieces, func(a, b ShipmentPackage) int { return a.ReferenceNumber - b.ReferenceNumber })
	for _, p := range pieces {
		result.PackageTrackingNumbers = append(result.PackageTrackingNumbers, p.TrackingNumber)
	}

	for _, doc := range resp.Documents {
		docType, ok := documentTypes[doc.TypeCode]
		if !ok {
			t.logger.Debug("Ignoring DHL document", zap.String("type_code", doc.TypeCode))
			continue
		}
		content, err := base64.StdEncoding.DecodeString(doc.Content)
		if err != nil {
			return nil, shipper.NewResponseParseError(carrierName, fmt.Sprintf("document %s is not valid base64", doc.TypeCode)).
				WithCause(err)
		}
		result.Documents = append(result.Documents, shipper.Document{
			Format:  strings.ToUpper(doc.ImageFormat),
			Content: content,
			Type:    docType,
		})
	}

	return result, nil
}

func (t *Transformer) incoterm(payer shipper.DutiesPayer) string {
	code, ok := IncotermFor(payer)
	if !ok {
		t.logger.Warn("Unmapped duties payer, using default incoterm",
			zap.String("duties_payer", string(payer)),
			zap.String("incoterm", code),
		)
	}
	return code
}

func (t *Transformer) exportReason(purpose shipper.ShipmentPurpose) string {
	code, ok := ExportReasonTypeFor(purpose)
	if !ok {
		t.logger.Warn("Unmapped shipment purpose, using default export reason",
			zap.String("purpose", string(purpose)),
			zap.String("export_reason_type", code),
		)
	}
	return code
}

func (t *Transformer) accounts() []Account {
	return []Account{{TypeCode: "shipper", Number: t.accountNumber}}
}

// ============================================================================
// Conversion helpers: Shipper models -> API models
// ============================================================================

func rateAddress(addr shipper.Address) RateAddress {
	lines := shipper.TruncateLines(addr.StreetLines, Limits.MaxStreetLines, Limits.MaxStreetLineLength)
	return RateAddress{
		PostalCode:   addr.PostalCode,
		CityName:     shipper.Truncate(addr.City, Limits.MaxCityLength),
		CountryCode:  addr.CountryCode,
		ProvinceCode: addr.RegionCode,
		AddressLine1: lineAt(lines, 0),
		AddressLine2: lineAt(lines, 1),
		AddressLine3: lineAt(lines, 2),
	}
}

func partyToAPI(party shipper.ShipmentParty) Party {
	addr := party.Address
	lines := shipper.TruncateLines(addr.StreetLines, Limits.MaxStreetLines, Limits.MaxStreetLineLength)

	company := party.Contact.Company
	if company == "" {
		company = party.Contact.Name
	}

	return Party{
		PostalAddress: PostalAddress{
			PostalCode:   addr.PostalCode,
			CityName:     shipper.Truncate(addr.City, Limits.MaxCityLength),
			CountryCode:  addr.CountryCode,
			ProvinceCode: addr.RegionCode,
			AddressLine1: lineAt(lines, 0),
			AddressLine2: lineAt(lines, 1),
			AddressLine3: lineAt(lines, 2),
		},
		ContactInformation: ContactInformation{
			Email:       party.Contact.Email,
			Phone:       shipper.Truncate(party.Contact.Phone, Limits.MaxPhoneLength),
			CompanyName: shipper.Truncate(company, Limits.MaxCompanyLength),
			FullName:    shipper.Truncate(party.Contact.Name, Limits.MaxNameLength),
		},
	}
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}

// unitSystem picks the shipment-level unit system from the first package.
func unitSystem(pkgs []shipper.PackageSpec) string {
	if len(pkgs) > 0 && pkgs[0].Weight.Unit == shipper.WeightLB {
		return unitImperial
	}
	return unitMetric
}

func toPackages(pkgs []shipper.PackageSpec, system string) []Package {
	result := make([]Package, len(pkgs))
	for i, p := range pkgs {
		result[i] = toPackage(p, system)
	}
	return result
}

func toPackage(p shipper.PackageSpec, system string) Package {
	return Package{
		Weight: convertWeight(p.Weight, system),
		Dimensions: Dimensions{
			Length: convertLength(p.Dimensions.Length, p.Dimensions.Unit, system),
			Width:  convertLength(p.Dimensions.Width, p.Dimensions.Unit, system),
			Height: convertLength(p.Dimensions.Height, p.Dimensions.Unit, system),
		},
		Description: shipper.Truncate(p.Description, maxShipmentDescription),
	}
}

func convertWeight(w shipper.Weight, system string) float64 {
	switch {
	case system == unitMetric && w.Unit == shipper.WeightLB:
		return round(w.Value*kgPerLb, 3)
	case system == unitImperial && w.Unit == shipper.WeightKG:
		return round(w.Value/kgPerLb, 3)
	default:
		return w.Value
	}
}

func convertLength(v float64, unit shipper.DimensionUnit, system string) float64 {
	switch {
	case system == unitMetric && unit == shipper.DimensionIN:
		return round(v*cmPerIn, 2)
	case system == unitImperial && unit == shipper.DimensionCM:
		return round(v/cmPerIn, 2)
	default:
		return v
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func description(req *shipper.ShipmentRequest) string {
	if req.Customs != nil && len(req.Customs.Lines) > 0 {
		parts := make([]string, 0, len(req.Customs.Lines))
		for _, l := range req.Customs.Lines {
			parts = append(parts, l.Description)
		}
		return strings.Join(parts, ", ")
	}
	for _, p := range req.Packages {
		if p.Description != "" {
			return p.Description
		}
	}
	return "General goods"
}

func lineItems(lines []shipper.CommodityLine, reason, system string) []LineItem {
	items := make([]LineItem, len(lines))
	for i, l := range lines {
		unit := l.QuantityUnit
		if unit == "" {
			unit = "PCS"
		}
		items[i] = LineItem{
			Number:              i + 1,
			Description:         shipper.Truncate(l.Description, Limits.MaxDescriptionLength),
			Price:               l.UnitPrice.Amount,
			Quantity:            Quantity{Value: l.Quantity, UnitOfMeasurement: unit},
			ExportReasonType:    reason,
			ManufacturerCountry: l.ManufactureCountry,
			Weight: LineWeight{
				NetValue:   convertWeight(l.NetWeight, system),
				GrossValue: convertWeight(l.GrossWeight, system),
			},
		}
		if l.HSCode != "" {
			items[i].CommodityCodes = []CommodityCode{{TypeCode: "outbound", Value: l.HSCode}}
		}
	}
	return items
}

func invoiceToAPI(inv shipper.Invoice, fallback time.Time) Invoice {
	date := inv.Date
	if date.IsZero() {
		date = fallback
	}
	return Invoice{Number: inv.Number, Date: date.Format(dateLayout)}
}

// ============================================================================
// Conversion helpers: API models -> Shipper models
// ============================================================================

// billingPrice prefers the billing-currency total.
func billingPrice(prices []Price) (Price, bool) {
	for _, p := range prices {
		if p.CurrencyType == "BILLC" && p.PriceCurrency != "" {
			return p, true
		}
	}
	for _, p := range prices {
		if p.PriceCurrency != "" {
			return p, true
		}
	}
	return Price{}, false
}

func noPackages() error {
	return &shipper.ValidationError{
		Carrier:    carrierName,
		Violations: []shipper.FieldViolation{{Field: "packages", Message: "must contain at least one package"}},
	}
}

// Ensure Transformer implements the shipper transformer contract.
var _ shipper.Transformer[*RateRequest, *RateResponse, *ShipmentRequest, *ShipmentResponse] = (*Transformer)(nil)
