package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
)

func baseRecord() extractor.RawRecord {
	return extractor.RawRecord{
		"id":           "rec-1",
		"parcelNumber": "wa / 001-a",
		"district":     "WESTERN AREA",
		"area":         500.0,
		"landType":     "HOME",
		"owner": extractor.RawRecord{
			"name":        "mohamed kamara",
			"nationalId":  "ab-12345678",
			"phoneNumber": "076123456",
		},
	}
}

func TestNormalize_ParcelNumberCanonicalization(t *testing.T) {
	n := New()
	result := n.Normalize(baseRecord(), domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, "WA/001-A", result.Record.ParcelNumber)
}

func TestNormalize_MissingParcelNumberIsTransformError(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["parcelNumber"] = ""

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.NotNil(t, result.Err)
	assert.Nil(t, result.Record)
}

func TestNormalize_DistrictSynonymMapping(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["district"] = "portloko"

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, "Port Loko", result.Record.District)
}

func TestNormalize_UnknownDistrictPassesThroughTrimmed(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["district"] = "  Tonkolili  "

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, "Tonkolili", result.Record.District)
}

func TestNormalize_LandTypeSynonymMapping(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["landType"] = "farming"

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, domain.LandAgricultural, result.Record.LandType)
}

func TestNormalize_UnknownLandTypeDefaultsToMixed(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["landType"] = "quarry"

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, domain.LandMixed, result.Record.LandType)
}

func TestNormalize_NationalIDInvalidFormatRaisesIssue(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["owner"] = extractor.RawRecord{"name": "x", "nationalId": "123", "phoneNumber": "076123456"}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Empty(t, result.Record.Owner.NationalID)
	assertHasIssue(t, result.Issues, "owner.nationalId", "invalid_format")
}

func TestNormalize_NationalIDMissingRaisesIssue(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["owner"] = extractor.RawRecord{"name": "x", "phoneNumber": "076123456"}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assertHasIssue(t, result.Issues, "owner.nationalId", "missing")
}

func TestNormalize_PhoneNumberGetsCountryCode(t *testing.T) {
	n := New()
	result := n.Normalize(baseRecord(), domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, "+232076123456", result.Record.Owner.Phone)
}

func TestNormalize_PhoneAlreadyHasCountryCodeIsNotDoubled(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["owner"] = extractor.RawRecord{"name": "x", "nationalId": "AB12345678", "phoneNumber": "+232 76 123456"}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, "+23276123456", result.Record.Owner.Phone)
}

func TestNormalize_PhoneWrongLengthRaisesInvalidFormatIssue(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["owner"] = extractor.RawRecord{"name": "x", "nationalId": "AB12345678", "phoneNumber": "12"}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Empty(t, result.Record.Owner.Phone)
	assertHasIssue(t, result.Issues, "owner.phoneNumber", "invalid_format")
}

func TestNormalize_NegativeAreaNormalizesToZeroAndRaisesIssue(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["area"] = -10.0

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, 0.0, result.Record.Area)
	assertHasIssue(t, result.Issues, "area", "non_positive_area")
}

func TestNormalize_AreaRoundsToTwoDecimals(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["area"] = 123.4567

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, 123.46, result.Record.Area)
}

func TestNormalize_CoordinatesWithinRegionArePopulated(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["coordinates"] = extractor.RawRecord{"lat": 8.48, "lng": -13.23}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	require.NotNil(t, result.Record.Coordinates)
	assert.InDelta(t, 8.48, result.Record.Coordinates.Latitude, 0.001)
	assert.InDelta(t, -13.23, result.Record.Coordinates.Longitude, 0.001)
}

func TestNormalize_CoordinatesOutsideRegionAreDroppedWithIssue(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["coordinates"] = extractor.RawRecord{"lat": 51.5, "lng": -0.1}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Nil(t, result.Record.Coordinates)
	assertHasIssue(t, result.Issues, "coordinates", "out_of_region_bounds")
}

func TestNormalize_BoundariesWithThreeValidVerticesArePopulated(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["boundaries"] = []any{
		map[string]any{"lat": 8.48, "lng": -13.23},
		map[string]any{"lat": 8.49, "lng": -13.24},
		map[string]any{"lat": 8.50, "lng": -13.25},
	}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Len(t, result.Record.Boundaries, 3)
}

func TestNormalize_BoundariesWithFewerThanThreeVerticesIsInvalidPolygon(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["boundaries"] = []any{
		map[string]any{"lat": 8.48, "lng": -13.23},
		map[string]any{"lat": 8.49, "lng": -13.24},
	}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Nil(t, result.Record.Boundaries)
	assertHasIssue(t, result.Issues, "boundaries", "invalid_polygon")
}

func TestNormalize_BoundaryVertexOutsideRegionIsInvalidPolygon(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["boundaries"] = []any{
		map[string]any{"lat": 8.48, "lng": -13.23},
		map[string]any{"lat": 51.5, "lng": -0.1},
		map[string]any{"lat": 8.50, "lng": -13.25},
	}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Nil(t, result.Record.Boundaries)
	assertHasIssue(t, result.Issues, "boundaries", "invalid_polygon")
}

func TestNormalize_NoLocationAtAllRaisesIssue(t *testing.T) {
	n := New()
	raw := baseRecord()

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assertHasIssue(t, result.Issues, "location", "no_geographic_location")
}

func TestNormalize_AddressAloneSatisfiesLocation(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["address"] = "12 Siaka Stevens St"

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	for _, issue := range result.Issues {
		assert.NotEqual(t, "no_geographic_location", issue.Issue)
	}
}

func TestNormalize_StaleVerificationRaisesIssue(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["lastVerificationDate"] = time.Now().AddDate(-6, 0, 0)

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assertHasIssue(t, result.Issues, "lastVerificationDate", "stale_verification")
}

func TestNormalize_MissingTaxAndVerificationStatusDefaultToPending(t *testing.T) {
	n := New()
	result := n.Normalize(baseRecord(), domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	assert.Equal(t, domain.TaxPending, result.Record.TaxStatus)
	assert.Equal(t, domain.VerificationPending, result.Record.VerificationStatus)
}

func TestNormalize_MissingNationalIDIsReportedOnce(t *testing.T) {
	n := New()
	raw := baseRecord()
	raw["owner"] = extractor.RawRecord{"name": "x"}

	result := n.Normalize(raw, domain.SourceLandAuthority)

	require.Nil(t, result.Err)
	var matches int
	for _, issue := range result.Issues {
		if issue.Field == "owner.nationalId" && issue.Issue == "missing" {
			matches++
			assert.Equal(t, 1, issue.Count)
		}
	}
	assert.Equal(t, 1, matches)
}

func assertHasIssue(t *testing.T, issues []domain.QualityIssue, field, issue string) {
	t.Helper()
	for _, i := range issues {
		if i.Field == field && i.Issue == issue {
			return
		}
	}
	t.Fatalf("expected issue %s/%s in %+v", field, issue, issues)
}
