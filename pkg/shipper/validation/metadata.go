package validation

import "regexp"

// StaticMetadata is an in-memory country rule table.
type StaticMetadata map[string]CountryRules

// CountryRules implements MetadataLookup.
func (m StaticMetadata) CountryRules(countryCode string) (CountryRules, bool) {
	rules, ok := m[countryCode]
	return rules, ok
}

// DefaultMetadata returns rules for the countries the carriers most often
// reject on address grounds.
func DefaultMetadata() StaticMetadata {
	return StaticMetadata{
		"US": {RegionRequired: true, PostalCodeRequired: true, PostalCodePattern: regexp.MustCompile(`^\d{5}(-\d{4})?$`)},
		"CA": {RegionRequired: true, PostalCodeRequired: true, PostalCodePattern: regexp.MustCompile(`^[A-Za-z]\d[A-Za-z] ?\d[A-Za-z]\d$`)},
		"MX": {RegionRequired: true, PostalCodeRequired: true},
		"AU": {RegionRequired: true, PostalCodeRequired: true, PostalCodePattern: regexp.MustCompile(`^\d{4}$`)},
		"BR": {RegionRequired: true, PostalCodeRequired: true},
		"IN": {RegionRequired: true, PostalCodeRequired: true, PostalCodePattern: regexp.MustCompile(`^\d{6}$`)},
		"GB": {PostalCodeRequired: true},
		"DE": {PostalCodeRequired: true, PostalCodePattern: regexp.MustCompile(`^\d{5}$`)},
		"FR": {PostalCodeRequired: true, PostalCodePattern: regexp.MustCompile(`^\d{5}$`)},
		"NL": {PostalCodeRequired: true},
		"CN": {PostalCodeRequired: true},
		"JP": {PostalCodeRequired: true},
		"AE": {},
		"HK": {},
	}
}
