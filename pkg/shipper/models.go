package shipper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WeightUnit represents weight measurement unit.
type WeightUnit string

const (
	WeightKG WeightUnit = "kg"
	WeightLB WeightUnit = "lb"
)

// DimensionUnit represents dimension measurement unit.
type DimensionUnit string

const (
	DimensionCM DimensionUnit = "cm"
	DimensionIN DimensionUnit = "in"
)

// DocumentType tags a document returned by a booking.
type DocumentType string

const (
	DocumentLabel   DocumentType = "LABEL"
	DocumentInvoice DocumentType = "INVOICE"
	DocumentWaybill DocumentType = "WAYBILL"
)

// DutiesPayer is the carrier-agnostic duties payment responsibility.
type DutiesPayer string

const (
	DutiesSender     DutiesPayer = "SENDER"
	DutiesRecipient  DutiesPayer = "RECIPIENT"
	DutiesThirdParty DutiesPayer = "THIRD_PARTY"
)

// ShipmentPurpose is the carrier-agnostic reason for export.
type ShipmentPurpose string

const (
	PurposeSold            ShipmentPurpose = "SOLD"
	PurposeGift            ShipmentPurpose = "GIFT"
	PurposeSample          ShipmentPurpose = "SAMPLE"
	PurposeRepair          ShipmentPurpose = "REPAIR"
	PurposeReturn          ShipmentPurpose = "RETURN"
	PurposePersonalEffects ShipmentPurpose = "PERSONAL_EFFECTS"
	PurposeNotSold         ShipmentPurpose = "NOT_SOLD"
)

// Address represents a postal address.
type Address struct {
	StreetLines []string `json:"streetLines" validate:"required,min=1,dive,required"`
	City        string   `json:"city" validate:"required"`
	RegionCode  string   `json:"regionCode,omitempty"` // state/province, required for some countries
	PostalCode  string   `json:"postalCode"`
	CountryCode string   `json:"countryCode" validate:"required,len=2"` // ISO 3166-1 alpha-2
}

// Contact represents the person or company at an address.
type Contact struct {
	Name    string `json:"name" validate:"required"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone" validate:"required"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
}

// ShipmentParty is a shipper or receiver.
type ShipmentParty struct {
	Address Address `json:"address"`
	Contact Contact `json:"contact"`
}

// Weight pairs a value with its unit.
type Weight struct {
	Value float64    `json:"value" validate:"gt=0"`
	Unit  WeightUnit `json:"unit" validate:"oneof=kg lb"`
}

// Dimensions pairs package dimensions with their unit.
type Dimensions struct {
	Length float64       `json:"length" validate:"gt=0"`
	Width  float64       `json:"width" validate:"gt=0"`
	Height float64       `json:"height" validate:"gt=0"`
	Unit   DimensionUnit `json:"unit" validate:"oneof=cm in"`
}

// PackageSpec describes one package, optionally replicated Count times.
type PackageSpec struct {
	Weight      Weight     `json:"weight"`
	Dimensions  Dimensions `json:"dimensions"`
	Count       int        `json:"count" validate:"gte=1"`
	Description string     `json:"description,omitempty"`
}

// ExpandPackages turns every PackageSpec with Count N into N unit packages,
// preserving order. A Count below 1 is treated as 1.
func ExpandPackages(pkgs []PackageSpec) []PackageSpec {
	total := 0
	for _, p := range pkgs {
		total += max(p.Count, 1)
	}

	result := make([]PackageSpec, 0, total)
	for _, p := range pkgs {
		unit := p
		unit.Count = 1
		for range max(p.Count, 1) {
			result = append(result, unit)
		}
	}
	return result
}

// Money represents a monetary amount.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency" validate:"required,len=3"`
}

// CommodityLine is one line of a customs declaration.
type CommodityLine struct {
	Description        string `json:"description" validate:"required"`
	Quantity           int    `json:"quantity" validate:"gte=1"`
	QuantityUnit       string `json:"quantityUnit,omitempty"`
	UnitPrice          Money  `json:"unitPrice"`
	NetWeight          Weight `json:"netWeight"`
	GrossWeight        Weight `json:"grossWeight"`
	ManufactureCountry string `json:"manufactureCountry" validate:"required,len=2"`
	HSCode             string `json:"hsCode,omitempty"`
}

// Invoice identifies the commercial invoice attached to a declaration.
type Invoice struct {
	Number string    `json:"number" validate:"required"`
	Date   time.Time `json:"date"`
}

// CustomsDeclaration describes a cross-border shipment's contents.
// DutiesPayer and Purpose are authoritative; carrier terms are derived from them.
type CustomsDeclaration struct {
	Lines         []CommodityLine `json:"lines" validate:"required,min=1,dive"`
	Invoice       Invoice         `json:"invoice"`
	DeclaredValue Money           `json:"declaredValue"`
	DutiesPayer   DutiesPayer     `json:"dutiesPayer" validate:"required"`
	Purpose       ShipmentPurpose `json:"purpose" validate:"required"`
}

// NewCustomsDeclaration builds a declaration with its derived fields computed.
func NewCustomsDeclaration(lines []CommodityLine, invoice Invoice, declared Money, payer DutiesPayer, purpose ShipmentPurpose) *CustomsDeclaration {
	return &CustomsDeclaration{
		Lines:         lines,
		Invoice:       invoice,
		DeclaredValue: declared,
		DutiesPayer:   payer,
		Purpose:       purpose,
	}
}

// Incoterm returns the legacy incoterm view of the duties payer.
func (c *CustomsDeclaration) Incoterm() string {
	return DeriveIncoterm(c.DutiesPayer)
}

// DeriveIncoterm maps a duties payer to the legacy incoterm code.
// The mapping is one-way: there is no parser back to DutiesPayer.
func DeriveIncoterm(payer DutiesPayer) string {
	switch payer {
	case DutiesSender, DutiesThirdParty:
		return "DDP"
	default:
		return "DAP"
	}
}

// ShipmentRequest is the carrier-agnostic description of one shipment.
type ShipmentRequest struct {
	Shipper       ShipmentParty       `json:"shipper"`
	Receiver      ShipmentParty       `json:"receiver"`
	Packages      []PackageSpec       `json:"packages" validate:"required,min=1,dive"`
	PlannedShipAt time.Time           `json:"plannedShipAt"`
	Customs       *CustomsDeclaration `json:"customs,omitempty"`
	Carrier       string              `json:"carrier" validate:"required"`
	Reference     string              `json:"reference" validate:"required"`
	ServiceCode   string              `json:"serviceCode,omitempty"`
	OrderID       string              `json:"orderId,omitempty"`
}

// CrossBorder reports whether shipper and receiver are in different countries.
func (r *ShipmentRequest) CrossBorder() bool {
	return !strings.EqualFold(r.Shipper.Address.CountryCode, r.Receiver.Address.CountryCode)
}

// PackageCount returns the number of unit packages after expansion.
func (r *ShipmentRequest) PackageCount() int {
	n := 0
	for _, p := range r.Packages {
		n += max(p.Count, 1)
	}
	return n
}

// SetDefaults fills in a count of 1 for packages that leave it unset.
func (r *ShipmentRequest) SetDefaults() {
	for i := range r.Packages {
		if r.Packages[i].Count == 0 {
			r.Packages[i].Count = 1
		}
	}
}

// RateQuote is one priced service option returned by a carrier.
type RateQuote struct {
	Carrier           string          `json:"carrier"`
	ServiceName       string          `json:"serviceName"`
	ServiceCode       string          `json:"serviceCode"`
	TotalPrice        Money           `json:"totalPrice"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	TransitDays       int             `json:"transitDays,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Document is a label, invoice or waybill returned by a booking.
type Document struct {
	Format  string       `json:"format"`
	Content []byte       `json:"content"`
	Type    DocumentType `json:"type"`
}

// BookingResult is the carrier confirmation of a booked shipment.
type BookingResult struct {
	Carrier                string     `json:"carrier"`
	TrackingNumber         string     `json:"trackingNumber"`
	DispatchReference      string     `json:"dispatchReference,omitempty"`
	TrackingURL            string     `json:"trackingUrl,omitempty"`
	PackageTrackingNumbers []string   `json:"packageTrackingNumbers,omitempty"`
	Documents              []Document `json:"documents,omitempty"`
}

// IsEmpty reports whether the result carries no carrier confirmation,
// which is how manual processing is signalled downstream.
func (b *BookingResult) IsEmpty() bool {
	return b == nil || b.TrackingNumber == ""
}

// AuthScheme is the Authorization header scheme of a credential.
type AuthScheme string

const (
	SchemeBasic  AuthScheme = "Basic"
	SchemeBearer AuthScheme = "Bearer"
)

// Credential is a carrier access credential held in process memory.
type Credential struct {
	Carrier     string
	Scheme      AuthScheme
	AccessToken string
	ExpiresAt   *time.Time // nil never expires
}

// Header returns the Authorization header value.
func (c Credential) Header() string {
	return fmt.Sprintf("%s %s", c.Scheme, c.AccessToken)
}

// Expired reports whether the credential must be refreshed at now,
// treating it as expired buffer before its actual expiry.
func (c Credential) Expired(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.Add(-buffer).After(now)
}
