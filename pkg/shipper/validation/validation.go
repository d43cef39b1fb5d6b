// Package validation rejects shipment requests a carrier would refuse,
// before any carrier call is made.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tournevent/carrierbridge/pkg/shipper"
)

// Constraints are a carrier's field limits. Transformers truncate to the
// same limits as a last resort; here they are enforced.
type Constraints struct {
	MaxStreetLines       int
	MaxStreetLineLength  int
	MaxCityLength        int
	MaxNameLength        int
	MaxCompanyLength     int
	MaxPhoneLength       int
	MaxDescriptionLength int // commodity description
	MaxPackages          int
}

// CountryRules describes address requirements for one country.
type CountryRules struct {
	RegionRequired     bool
	PostalCodeRequired bool
	PostalCodePattern  *regexp.Regexp
}

// MetadataLookup provides country address rules.
type MetadataLookup interface {
	CountryRules(countryCode string) (CountryRules, bool)
}

// Validator validates shipment requests against structural rules, country
// metadata and per-carrier constraints.
type Validator struct {
	validate    *validator.Validate
	metadata    MetadataLookup
	constraints map[string]Constraints
	mu          sync.RWMutex
}

// New creates a validator. metadata may be nil.
func New(metadata MetadataLookup) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate:    v,
		metadata:    metadata,
		constraints: make(map[string]Constraints),
	}
}

// SetConstraints registers carrier field limits.
func (v *Validator) SetConstraints(carrier string, c Constraints) *Validator {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.constraints[carrier] = c
	return v
}

// Validate returns a *shipper.ValidationError listing every violation, or nil.
func (v *Validator) Validate(req *shipper.ShipmentRequest) error {
	var violations []shipper.FieldViolation
	add := func(field, format string, args ...interface{}) {
		violations = append(violations, shipper.FieldViolation{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := v.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			add(fieldPath(fe.Namespace()), "%s", msgForTag(fe))
		}
	}

	if req.PlannedShipAt.IsZero() {
		add("plannedShipAt", "is required")
	}
	if req.CrossBorder() && req.Customs == nil {
		add("customs", "is required for cross-border shipments")
	}

	v.checkParty("shipper", req.Shipper, add)
	v.checkParty("receiver", req.Receiver, add)

	v.mu.RLock()
	limits, ok := v.constraints[req.Carrier]
	v.mu.RUnlock()
	if ok {
		checkLimits(req, limits, add)
	}

	if len(violations) == 0 {
		return nil
	}
	return &shipper.ValidationError{Carrier: req.Carrier, Violations: violations}
}

func (v *Validator) checkParty(prefix string, party shipper.ShipmentParty, add func(string, string, ...interface{})) {
	if v.metadata == nil {
		return
	}
	rules, ok := v.metadata.CountryRules(strings.ToUpper(party.Address.CountryCode))
	if !ok {
		return
	}
	if rules.RegionRequired && party.Address.RegionCode == "" {
		add(prefix+".address.regionCode", "is required for country %s", party.Address.CountryCode)
	}
	if rules.PostalCodeRequired && party.Address.PostalCode == "" {
		add(prefix+".address.postalCode", "is required for country %s", party.Address.CountryCode)
	}
	if party.Address.PostalCode != "" && rules.PostalCodePattern != nil &&
		!rules.PostalCodePattern.MatchString(party.Address.PostalCode) {
		add(prefix+".address.postalCode", "is not a valid postal code for country %s", party.Address.CountryCode)
	}
}

func checkLimits(req *shipper.ShipmentRequest, c Constraints, add func(string, string, ...interface{})) {
	for _, p := range []struct {
		prefix string
		party  shipper.ShipmentParty
	}{{"shipper", req.Shipper}, {"receiver", req.Receiver}} {
		lines := p.party.Address.StreetLines
		if c.MaxStreetLines > 0 && len(lines) > c.MaxStreetLines {
			add(p.prefix+".address.streetLines", "must have at most %d lines", c.MaxStreetLines)
		}
		for i, line := range lines {
			if tooLong(line, c.MaxStreetLineLength) {
				add(fmt.Sprintf("%s.address.streetLines[%d]", p.prefix, i), "must be at most %d characters", c.MaxStreetLineLength)
			}
		}
		if tooLong(p.party.Address.City, c.MaxCityLength) {
			add(p.prefix+".address.city", "must be at most %d characters", c.MaxCityLength)
		}
		if tooLong(p.party.Contact.Name, c.MaxNameLength) {
			add(p.prefix+".contact.name", "must be at most %d characters", c.MaxNameLength)
		}
		if tooLong(p.party.Contact.Company, c.MaxCompanyLength) {
			add(p.prefix+".contact.company", "must be at most %d characters", c.MaxCompanyLength)
		}
		if tooLong(p.party.Contact.Phone, c.MaxPhoneLength) {
			add(p.prefix+".contact.phone", "must be at most %d characters", c.MaxPhoneLength)
		}
	}

	if c.MaxPackages > 0 && req.PackageCount() > c.MaxPackages {
		add("packages", "must expand to at most %d packages", c.MaxPackages)
	}

	if req.Customs != nil {
		for i, line := range req.Customs.Lines {
			if tooLong(line.Description, c.MaxDescriptionLength) {
				add(fmt.Sprintf("customs.lines[%d].description", i), "must be at most %d characters", c.MaxDescriptionLength)
			}
		}
	}
}

func tooLong(s string, limit int) bool {
	return limit > 0 && len([]rune(s)) > limit
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
