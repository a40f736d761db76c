// Package merger reconciles per-source LandRecords sharing a parcelNumber
// into a single UNIFIED record.
package merger

import (
	"sort"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

// sourcePriority ranks provenance high to low; UNIFIED inputs (already merged,
// e.g. re-processed on a later incremental run) outrank everything.
var sourcePriority = map[domain.SourceSystem]int{
	domain.SourceUnified:          4,
	domain.SourceLandAuthority:    3,
	domain.SourceRevenueAuthority: 2,
	domain.SourceRegistry:         1,
}

// Merger reconciles a group of same-parcel records into one UNIFIED record.
type Merger struct{}

// New constructs a Merger.
func New() *Merger { return &Merger{} }

// Group is the set of per-source records sharing a canonical parcelNumber,
// handed to Merge by the streaming window once a flush condition is met.
type Group struct {
	ParcelNumber string
	Records      []domain.LandRecord
}

// Merge reconciles g into a single UNIFIED LandRecord plus any consistency
// quality issues surfaced by the merge. A single-record group still produces
// a UNIFIED record (the "single-source emission" case from the windowing
// contract): later runs supplementing the other sources follow the UPDATE path.
func (m *Merger) Merge(g Group) (domain.LandRecord, []domain.QualityIssue) {
	if len(g.Records) == 0 {
		return domain.LandRecord{}, nil
	}
	ordered := orderByPriority(g.Records)
	primary := ordered[0]
	out := primary.Clone()

	landAuthority, hasLandAuthority := byOrderedSource(ordered, domain.SourceLandAuthority)
	revenueAuthority, hasRevenueAuthority := byOrderedSource(ordered, domain.SourceRevenueAuthority)
	registry, hasRegistry := byOrderedSource(ordered, domain.SourceRegistry)

	// Location, core ownership, land type/area: LAND_AUTHORITY wins outright.
	if hasLandAuthority {
		out.District = landAuthority.District
		out.Chiefdom = landAuthority.Chiefdom
		out.Ward = landAuthority.Ward
		out.Address = landAuthority.Address
		out.Coordinates = landAuthority.Coordinates
		out.Boundaries = landAuthority.Boundaries
		out.LandType = landAuthority.LandType
		out.Area = landAuthority.Area
		out.Owner.Name = landAuthority.Owner.Name
	}

	// Tax/valuation fields: REVENUE_AUTHORITY primary, LAND_AUTHORITY supplements
	// only with a newer valuation date.
	if hasRevenueAuthority {
		out.TaxStatus = revenueAuthority.TaxStatus
		out.LastPaymentDate = revenueAuthority.LastPaymentDate
		out.ArrearsAmount = revenueAuthority.ArrearsAmount
		out.CurrentValue = revenueAuthority.CurrentValue
		out.TaxAssessment = revenueAuthority.TaxAssessment
	}
	if hasLandAuthority && newerValuation(landAuthority, out) {
		if landAuthority.CurrentValue != nil {
			out.CurrentValue = landAuthority.CurrentValue
		}
		if landAuthority.TaxAssessment != nil {
			out.TaxAssessment = landAuthority.TaxAssessment
		}
		out.LastValuationDate = landAuthority.LastValuationDate
	}

	// Legal fields: REGISTRY primary, LAND_AUTHORITY supplements; arrays union.
	if hasRegistry {
		if registry.TitleDeedNumber != "" {
			out.TitleDeedNumber = registry.TitleDeedNumber
		}
		out.Encumbrances = unionStrings(out.Encumbrances, registry.Encumbrances)
		out.PreviousOwners = mergePreviousOwners(out.PreviousOwners, registry.PreviousOwners)
	}
	if hasLandAuthority {
		if out.TitleDeedNumber == "" && landAuthority.TitleDeedNumber != "" {
			out.TitleDeedNumber = landAuthority.TitleDeedNumber
		}
		out.Encumbrances = unionStrings(out.Encumbrances, landAuthority.Encumbrances)
		out.PreviousOwners = mergePreviousOwners(out.PreviousOwners, landAuthority.PreviousOwners)
	}

	// Owner contact: REVENUE_AUTHORITY primary, LAND_AUTHORITY supplements;
	// owner.name always comes from LAND_AUTHORITY (already set above).
	if hasRevenueAuthority {
		if revenueAuthority.Owner.Phone != "" {
			out.Owner.Phone = revenueAuthority.Owner.Phone
		}
		if revenueAuthority.Owner.Email != "" {
			out.Owner.Email = revenueAuthority.Owner.Email
		}
	}
	if hasLandAuthority {
		if out.Owner.Phone == "" && landAuthority.Owner.Phone != "" {
			out.Owner.Phone = landAuthority.Owner.Phone
		}
		if out.Owner.Email == "" && landAuthority.Owner.Email != "" {
			out.Owner.Email = landAuthority.Owner.Email
		}
	}

	out.SourceSystem = domain.SourceUnified
	out.Version = maxVersion(g.Records) + 1
	out.UpdatedAt = time.Now()
	out.QualityScore = mergedQualityScore(primary, g.Records)

	return out, consistencyIssues(out, hasRegistry)
}

func orderByPriority(records []domain.LandRecord) []domain.LandRecord {
	ordered := append([]domain.LandRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return sourcePriority[ordered[i].SourceSystem] > sourcePriority[ordered[j].SourceSystem]
	})
	return ordered
}

func byOrderedSource(ordered []domain.LandRecord, source domain.SourceSystem) (domain.LandRecord, bool) {
	for _, r := range ordered {
		if r.SourceSystem == source {
			return r, true
		}
	}
	return domain.LandRecord{}, false
}

func newerValuation(candidate, current domain.LandRecord) bool {
	if candidate.LastValuationDate == nil {
		return false
	}
	if current.LastValuationDate == nil {
		return true
	}
	return candidate.LastValuationDate.After(*current.LastValuationDate)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			out = append(out, v)
			seen[v] = struct{}{}
		}
	}
	return out
}

func mergePreviousOwners(a, b []domain.PreviousOwner) []domain.PreviousOwner {
	type key struct {
		name string
		from time.Time
	}
	seen := make(map[key]struct{}, len(a))
	out := append([]domain.PreviousOwner(nil), a...)
	for _, o := range a {
		seen[key{o.Name, o.From}] = struct{}{}
	}
	for _, o := range b {
		k := key{o.Name, o.From}
		if _, ok := seen[k]; !ok {
			out = append(out, o)
			seen[k] = struct{}{}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].From.Before(out[j].From) })
	return out
}

func maxVersion(records []domain.LandRecord) int {
	max := 0
	for _, r := range records {
		if r.Version > max {
			max = r.Version
		}
	}
	return max
}

// mergedQualityScore computes base = primary.QualityScore (default 70) +
// 10 per additional source present + 5 x sourceCount bonus when >1, capped at 100.
func mergedQualityScore(primary domain.LandRecord, all []domain.LandRecord) int {
	base := primary.QualityScore
	if base == 0 {
		base = 70
	}
	sourceCount := len(all)
	additional := sourceCount - 1
	score := base + 10*additional
	if sourceCount > 1 {
		score += 5 * sourceCount
	}
	if score > 100 {
		score = 100
	}
	return score
}

func consistencyIssues(merged domain.LandRecord, hasRegistry bool) []domain.QualityIssue {
	var issues []domain.QualityIssue

	if merged.TaxAssessment != nil && merged.Area > 0 {
		ratio := *merged.TaxAssessment / merged.Area
		if ratio < 10 || ratio > 10000 {
			issues = append(issues, domain.QualityIssue{
				Field: "taxAssessment", Issue: "ratio_out_of_range", Severity: domain.SeverityMedium, Count: 1,
			})
		}
	}

	if hasRegistry && merged.TitleDeedNumber == "" {
		issues = append(issues, domain.QualityIssue{
			Field: "titleDeedNumber", Issue: "missing_despite_registry", Severity: domain.SeverityHigh, Count: 1,
		})
	}

	if merged.TaxStatus == domain.TaxPending {
		issues = append(issues, domain.QualityIssue{
			Field: "taxStatus", Issue: "still_pending_post_merge", Severity: domain.SeverityMedium, Count: 1,
		})
	}

	return issues
}
