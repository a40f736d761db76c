// Package normalizer implements the pure per-record transform from a raw
// source record into a canonical domain.LandRecord, plus batch-level quality
// scoring.
package normalizer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	pipelineerrors "github.com/landrecords-sl/etl-pipeline/internal/errors"
	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
)

// districtSynonyms maps known source variants to their canonical district
// name. Seeded from the scenarios a complete implementation of this pipeline
// must pass; unknown values pass through trimmed.
var districtSynonyms = map[string]string{
	"WESTERN AREA": "Western Area Urban",
	"PORTLOKO":     "Port Loko",
	"PORT LOKO":    "Port Loko",
	"BO":           "Bo",
	"KENEMA":       "Kenema",
	"KAMBIA":       "Kambia",
}

// landTypeSynonyms maps known source variants to the canonical enumeration;
// anything unmapped normalizes to LandMixed.
var landTypeSynonyms = map[string]domain.LandType{
	"HOME":         domain.LandResidential,
	"RESIDENTIAL":  domain.LandResidential,
	"FARMING":      domain.LandAgricultural,
	"AGRICULTURAL": domain.LandAgricultural,
	"FARM":         domain.LandAgricultural,
	"SHOP":         domain.LandCommercial,
	"COMMERCIAL":   domain.LandCommercial,
	"FACTORY":      domain.LandIndustrial,
	"INDUSTRIAL":   domain.LandIndustrial,
}

var (
	parcelStripRe      = regexp.MustCompile(`[^\w/\-]`)
	nationalIDStripRe  = regexp.MustCompile(`\W`)
	phoneStripRe       = regexp.MustCompile(`\D`)
	nationalIDFormatRe = regexp.MustCompile(`^[A-Z0-9]{8,15}$`)
	hasDigitRe         = regexp.MustCompile(`\d`)
	// phoneFormatRe matches a normalized +<countryCode><subscriber> number:
	// the region's prefix (232) followed by an 8-digit subscriber number, or
	// 9 digits when the source kept the local trunk "0" (normalizePhone
	// prepends the country code without stripping it).
	phoneFormatRe = regexp.MustCompile(`^\+232\d{8,9}$`)
)

// defaultCountryCode is prepended to phone numbers missing one. Sierra Leone's
// country code, matching the target-region coordinate bounds in domain invariants.
const defaultCountryCode = "232"

// Normalizer applies the field-level rules in the normalization contract.
type Normalizer struct {
	validate *validator.Validate
}

// New constructs a Normalizer.
func New() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

// Result is the outcome of normalizing one raw record.
type Result struct {
	Record *domain.LandRecord
	Issues []domain.QualityIssue
	Err    *pipelineerrors.PipelineError
}

// Normalize transforms a raw record of the given provenance into a canonical
// LandRecord plus quality issues, or returns a TransformError.
func (n *Normalizer) Normalize(raw extractor.RawRecord, source domain.SourceSystem) Result {
	rec := &domain.LandRecord{
		SourceSystem: source,
		UpdatedAt:    time.Now(),
	}
	var issues []domain.QualityIssue

	rec.ID = str(raw["id"])
	rec.ParcelNumber = normalizeParcelNumber(str(raw["parcelNumber"]))
	if rec.ParcelNumber == "" {
		return Result{Err: pipelineerrors.Transform("normalize", fmt.Errorf("missing parcelNumber"))}
	}

	rec.District = normalizeDistrict(str(raw["district"]))
	rec.Chiefdom = titleCase(str(raw["chiefdom"]))
	rec.Ward = str(raw["ward"])
	rec.Address = str(raw["address"])

	owner := domain.Owner{Name: titleCase(strings.TrimSpace(str(nested(raw, "owner", "name"))))}

	rawNationalID := nationalIDStripRe.ReplaceAllString(strings.ToUpper(str(nested(raw, "owner", "nationalId"))), "")
	if rawNationalID != "" {
		if nationalIDFormatRe.MatchString(rawNationalID) && hasDigitRe.MatchString(rawNationalID) {
			owner.NationalID = rawNationalID
		} else {
			issues = append(issues, domain.QualityIssue{Field: "owner.nationalId", Issue: "invalid_format", Severity: domain.SeverityHigh, Count: 1})
		}
	} else {
		issues = append(issues, domain.QualityIssue{Field: "owner.nationalId", Issue: "missing", Severity: domain.SeverityHigh, Count: 1})
	}

	rawPhone := phoneStripRe.ReplaceAllString(str(nested(raw, "owner", "phoneNumber")), "")
	if rawPhone != "" {
		normalizedPhone := normalizePhone(rawPhone)
		if phoneFormatRe.MatchString(normalizedPhone) {
			owner.Phone = normalizedPhone
		} else {
			issues = append(issues, domain.QualityIssue{Field: "owner.phoneNumber", Issue: "invalid_format", Severity: domain.SeverityMedium, Count: 1})
		}
	} else {
		issues = append(issues, domain.QualityIssue{Field: "owner.phoneNumber", Issue: "missing", Severity: domain.SeverityMedium, Count: 1})
	}
	owner.Email = str(nested(raw, "owner", "email"))
	rec.Owner = owner

	rec.LandType = normalizeLandType(str(raw["landType"]))
	rec.Area = normalizeNumeric(raw["area"])
	rec.LandUse = str(raw["landUse"])

	rec.CurrentValue = normalizeOptionalNumeric(raw["currentValue"])
	rec.TaxAssessment = normalizeOptionalNumeric(raw["taxAssessment"])
	rec.ArrearsAmount = normalizeOptionalNumeric(raw["arrearsAmount"])

	rec.TitleDeedNumber = str(raw["titleDeedNumber"])
	if rec.TitleDeedNumber == "" {
		issues = append(issues, domain.QualityIssue{Field: "titleDeedNumber", Issue: "missing", Severity: domain.SeverityMedium, Count: 1})
	}

	if coords, ok := parseCoordinates(nested(raw, "coordinates", "lat"), nested(raw, "coordinates", "lng")); ok {
		if n.validRegion(coords) {
			rec.Coordinates = coords
		} else {
			issues = append(issues, domain.QualityIssue{Field: "coordinates", Issue: "out_of_region_bounds", Severity: domain.SeverityHigh, Count: 1})
		}
	}
	if raw["boundaries"] != nil {
		if boundaries, ok := n.parseBoundaries(raw["boundaries"]); ok {
			rec.Boundaries = boundaries
		} else {
			issues = append(issues, domain.QualityIssue{Field: "boundaries", Issue: "invalid_polygon", Severity: domain.SeverityHigh, Count: 1})
		}
	}

	if rec.Coordinates == nil && rec.Address == "" {
		issues = append(issues, domain.QualityIssue{Field: "location", Issue: "no_geographic_location", Severity: domain.SeverityHigh, Count: 1})
	}

	if rec.Area <= 0 {
		issues = append(issues, domain.QualityIssue{Field: "area", Issue: "non_positive_area", Severity: domain.SeverityCritical, Count: 1})
	}

	if status := str(raw["taxStatus"]); status != "" {
		rec.TaxStatus = domain.TaxStatus(strings.ToLower(status))
	} else {
		rec.TaxStatus = domain.TaxPending
	}
	if status := str(raw["verificationStatus"]); status != "" {
		rec.VerificationStatus = domain.VerificationStatus(strings.ToLower(status))
	} else {
		rec.VerificationStatus = domain.VerificationPending
	}

	if lastVerified, ok := raw["lastVerificationDate"].(time.Time); ok {
		rec.LastVerificationDate = &lastVerified
		if time.Since(lastVerified) > 5*365*24*time.Hour {
			issues = append(issues, domain.QualityIssue{Field: "lastVerificationDate", Issue: "stale_verification", Severity: domain.SeverityMedium, Count: 1})
		}
	}

	rec.Version = 1
	if v, ok := raw["version"].(int); ok && v > 0 {
		rec.Version = v
	}
	rec.CreatedAt = time.Now()

	return Result{Record: rec, Issues: dedupeIssues(issues)}
}

// validRegion reports whether coords satisfies the target-region latitude
// and longitude bounds from the domain invariants.
func (n *Normalizer) validRegion(coords *domain.Coordinates) bool {
	return n.validate.Var(coords.Latitude, "gte=6.9,lte=10.0") == nil &&
		n.validate.Var(coords.Longitude, "gte=-13.5,lte=-10.2") == nil
}

// parseCoordinates builds a Coordinates from raw lat/lng values, reporting ok
// = false when either is absent or not numeric.
func parseCoordinates(lat, lng any) (*domain.Coordinates, bool) {
	if lat == nil || lng == nil {
		return nil, false
	}
	latF, lngF := toFloat(lat), toFloat(lng)
	if math.IsNaN(latF) || math.IsNaN(lngF) {
		return nil, false
	}
	return &domain.Coordinates{Latitude: latF, Longitude: lngF}, true
}

// parseBoundaries decodes raw (a []any of {lat,lng}-shaped entries) into an
// ordered vertex list, requiring at least 3 in-region vertices per the
// boundary invariant. ok is false if the shape or bounds don't hold, in
// which case the caller drops the field rather than rejecting the record.
func (n *Normalizer) parseBoundaries(raw any) ([]domain.Coordinates, bool) {
	items, ok := raw.([]any)
	if !ok || len(items) < 3 {
		return nil, false
	}
	out := make([]domain.Coordinates, 0, len(items))
	for _, item := range items {
		var lat, lng any
		switch m := item.(type) {
		case map[string]any:
			lat, lng = m["lat"], m["lng"]
		case extractor.RawRecord:
			lat, lng = m["lat"], m["lng"]
		default:
			return nil, false
		}
		coords, ok := parseCoordinates(lat, lng)
		if !ok || !n.validRegion(coords) {
			return nil, false
		}
		out = append(out, *coords)
	}
	return out, true
}

func normalizeParcelNumber(raw string) string {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	return parcelStripRe.ReplaceAllString(upper, "")
}

func normalizeDistrict(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := districtSynonyms[strings.ToUpper(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

func normalizeLandType(raw string) domain.LandType {
	if lt, ok := landTypeSynonyms[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return lt
	}
	return domain.LandMixed
}

func normalizePhone(digits string) string {
	if strings.HasPrefix(digits, defaultCountryCode) {
		return "+" + digits
	}
	return "+" + defaultCountryCode + digits
}

func normalizeNumeric(v any) float64 {
	f := toFloat(v)
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	return math.Round(f*100) / 100
}

func normalizeOptionalNumeric(v any) *float64 {
	if v == nil {
		return nil
	}
	f := normalizeNumeric(v)
	return &f
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func nested(raw extractor.RawRecord, parent, field string) any {
	if m, ok := raw[parent].(map[string]any); ok {
		return m[field]
	}
	if m, ok := raw[parent].(extractor.RawRecord); ok {
		return m[field]
	}
	return nil
}

func dedupeIssues(issues []domain.QualityIssue) []domain.QualityIssue {
	seen := make(map[string]*domain.QualityIssue)
	var order []string
	for _, issue := range issues {
		key := issue.Field + "|" + issue.Issue
		if existing, ok := seen[key]; ok {
			existing.Count++
			continue
		}
		copyIssue := issue
		seen[key] = &copyIssue
		order = append(order, key)
	}
	out := make([]domain.QualityIssue, 0, len(order))
	for _, key := range order {
		out = append(out, *seen[key])
	}
	return out
}
