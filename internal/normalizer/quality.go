package normalizer

import "github.com/landrecords-sl/etl-pipeline/internal/domain"

// Fixed values Report uses for the dimensions it does not compute.
const (
	defaultConsistency = 0.85
	defaultAccuracy    = 0.90
	defaultTimeliness  = 1.0
	defaultUniqueness  = 1.0
)

// BatchQuality folds a batch of per-record issues into a QualityReport,
// deduplicating on (field, issue) and capping the examples list.
type BatchQuality struct {
	maxExamples     int
	issues          map[string]*domain.QualityIssue
	order           []string
	recordCount     int
	completeRecords int
}

// NewBatchQuality constructs an accumulator with the given per-issue example cap.
func NewBatchQuality(maxExamples int) *BatchQuality {
	if maxExamples <= 0 {
		maxExamples = 5
	}
	return &BatchQuality{maxExamples: maxExamples, issues: make(map[string]*domain.QualityIssue)}
}

// Add folds one record's normalization result into the accumulator.
func (b *BatchQuality) Add(recordRef string, issues []domain.QualityIssue) {
	b.recordCount++
	if len(issues) == 0 {
		b.completeRecords++
	}
	b.AddIssuesOnly(recordRef, issues)
}

// AddIssuesOnly folds issues surfaced after the per-record count has already
// been taken (e.g. merge-time consistency checks) into the same tally without
// double-counting the record against completeness.
func (b *BatchQuality) AddIssuesOnly(recordRef string, issues []domain.QualityIssue) {
	for _, issue := range issues {
		key := issue.Field + "|" + issue.Issue
		existing, ok := b.issues[key]
		if !ok {
			copyIssue := issue
			copyIssue.Count = 0
			b.issues[key] = &copyIssue
			b.order = append(b.order, key)
			existing = b.issues[key]
		}
		existing.Count += issue.Count
		if recordRef != "" && len(existing.Examples) < b.maxExamples {
			existing.Examples = append(existing.Examples, recordRef)
		}
	}
}

// Report computes the weighted QualityReport for everything added so far.
// Completeness is the fraction of records with zero issues; accuracy,
// consistency, timeliness and uniqueness are always the fixed default values.
func (b *BatchQuality) Report() domain.QualityReport {
	completeness := 1.0
	if b.recordCount > 0 {
		completeness = float64(b.completeRecords) / float64(b.recordCount)
	}

	issues := make([]domain.QualityIssue, 0, len(b.order))
	for _, key := range b.order {
		issues = append(issues, *b.issues[key])
	}

	return domain.QualityReport{
		Completeness: completeness,
		Accuracy:     defaultAccuracy,
		Consistency:  defaultConsistency,
		Timeliness:   defaultTimeliness,
		Uniqueness:   defaultUniqueness,
		Issues:       issues,
	}
}
