package validation_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/tournevent/carrierbridge/pkg/shipper/validation"
)

func validRequest() *shipper.ShipmentRequest {
	return &shipper.ShipmentRequest{
		Carrier:   shipper.CarrierFedEx,
		Reference: "REF-1",
		Shipper: shipper.ShipmentParty{
			Address: shipper.Address{StreetLines: []string{"Sheikh Zayed Rd 1"}, City: "Dubai", CountryCode: "AE"},
			Contact: shipper.Contact{Name: "Sender", Phone: "+971500000000"},
		},
		Receiver: shipper.ShipmentParty{
			Address: shipper.Address{StreetLines: []string{"5th Ave 350"}, City: "New York", RegionCode: "NY", PostalCode: "10118", CountryCode: "US"},
			Contact: shipper.Contact{Name: "Receiver", Phone: "+12125550100"},
		},
		Packages: []shipper.PackageSpec{{
			Weight:     shipper.Weight{Value: 2, Unit: shipper.WeightKG},
			Dimensions: shipper.Dimensions{Length: 30, Width: 20, Height: 10, Unit: shipper.DimensionCM},
			Count:      3,
		}},
		PlannedShipAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Customs: shipper.NewCustomsDeclaration(
			[]shipper.CommodityLine{{
				Description:        "Cotton shirts",
				Quantity:           3,
				UnitPrice:          shipper.Money{Amount: 20, Currency: "USD"},
				NetWeight:          shipper.Weight{Value: 1.5, Unit: shipper.WeightKG},
				GrossWeight:        shipper.Weight{Value: 2, Unit: shipper.WeightKG},
				ManufactureCountry: "AE",
			}},
			shipper.Invoice{Number: "INV-1", Date: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
			shipper.Money{Amount: 60, Currency: "USD"},
			shipper.DutiesRecipient,
			shipper.PurposeSold,
		),
	}
}

func newValidator() *validation.Validator {
	return validation.New(validation.DefaultMetadata()).
		SetConstraints(shipper.CarrierFedEx, validation.Constraints{
			MaxStreetLines:       3,
			MaxStreetLineLength:  35,
			MaxCityLength:        35,
			MaxNameLength:        70,
			MaxCompanyLength:     35,
			MaxPhoneLength:       15,
			MaxDescriptionLength: 450,
			MaxPackages:          10,
		})
}

func violations(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrValidation))
	var valErr *shipper.ValidationError
	require.True(t, errors.As(err, &valErr))
	return valErr.Fields()
}

func TestValidator_Validate_Success(t *testing.T) {
	assert.NoError(t, newValidator().Validate(validRequest()))
}

func TestValidator_Validate_RequiredFields(t *testing.T) {
	req := validRequest()
	req.Reference = ""
	req.Receiver.Contact.Name = ""
	req.Packages[0].Weight.Value = 0

	fields := violations(t, newValidator().Validate(req))

	assert.Contains(t, fields, "reference")
	assert.Contains(t, fields, "receiver.contact.name")
	assert.Contains(t, fields, "packages[0].weight.value")
}

func TestValidator_Validate_PlannedShipAt(t *testing.T) {
	req := validRequest()
	req.PlannedShipAt = time.Time{}

	fields := violations(t, newValidator().Validate(req))
	assert.Equal(t, "is required", fields["plannedShipAt"])
}

func TestValidator_Validate_CustomsRequiredCrossBorder(t *testing.T) {
	req := validRequest()
	req.Customs = nil

	fields := violations(t, newValidator().Validate(req))
	assert.Contains(t, fields, "customs")
}

func TestValidator_Validate_DomesticWithoutCustoms(t *testing.T) {
	req := validRequest()
	req.Shipper.Address = shipper.Address{StreetLines: []string{"1 Main St"}, City: "Boston", RegionCode: "MA", PostalCode: "02108", CountryCode: "US"}
	req.Customs = nil

	assert.NoError(t, newValidator().Validate(req))
}

func TestValidator_Validate_CountryRules(t *testing.T) {
	req := validRequest()
	req.Receiver.Address.RegionCode = ""
	req.Receiver.Address.PostalCode = "ABC"

	fields := violations(t, newValidator().Validate(req))

	assert.Contains(t, fields, "receiver.address.regionCode")
	assert.Contains(t, fields, "receiver.address.postalCode")
}

func TestValidator_Validate_CarrierLimits(t *testing.T) {
	req := validRequest()
	req.Receiver.Address.StreetLines = []string{"a", "b", "c", strings.Repeat("x", 36)}
	req.Receiver.Contact.Phone = "+1212555010012345"
	req.Packages[0].Count = 11

	fields := violations(t, newValidator().Validate(req))

	assert.Contains(t, fields, "receiver.address.streetLines")
	assert.Contains(t, fields, "receiver.address.streetLines[3]")
	assert.Contains(t, fields, "receiver.contact.phone")
	assert.Contains(t, fields, "packages")
}

func TestValidator_Validate_LimitsArePerCarrier(t *testing.T) {
	req := validRequest()
	req.Carrier = shipper.CarrierDHL
	req.Receiver.Contact.Phone = "+1212555010012345"

	assert.NoError(t, newValidator().Validate(req))
}
