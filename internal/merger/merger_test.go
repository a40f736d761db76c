package merger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

func floatPtr(f float64) *float64 { return &f }

func TestMerge_LocationFromLandAuthority(t *testing.T) {
	m := New()
	land := domain.LandRecord{
		SourceSystem: domain.SourceLandAuthority,
		ParcelNumber: "WA-001",
		District:     "Western Area Urban",
		Area:         500,
		LandType:     domain.LandResidential,
		Owner:        domain.Owner{Name: "John Kamara"},
		Version:      1,
	}
	revenue := domain.LandRecord{
		SourceSystem: domain.SourceRevenueAuthority,
		ParcelNumber: "WA-001",
		District:     "Should Not Win",
		TaxStatus:    domain.TaxArrears,
		CurrentValue: floatPtr(15000),
		Version:      2,
	}

	merged, issues := m.Merge(Group{ParcelNumber: "WA-001", Records: []domain.LandRecord{land, revenue}})

	assert.Equal(t, "Western Area Urban", merged.District)
	assert.Equal(t, domain.TaxArrears, merged.TaxStatus)
	assert.Equal(t, domain.SourceUnified, merged.SourceSystem)
	assert.Equal(t, 3, merged.Version)
	assert.Empty(t, issues)
}

func TestMerge_RegistrySupplementedByLandAuthority(t *testing.T) {
	m := New()
	land := domain.LandRecord{
		SourceSystem:    domain.SourceLandAuthority,
		ParcelNumber:    "WA-002",
		TitleDeedNumber: "TD-9",
		Encumbrances:    []string{"mortgage"},
		Version:         1,
	}
	registry := domain.LandRecord{
		SourceSystem: domain.SourceRegistry,
		ParcelNumber: "WA-002",
		Encumbrances: []string{"easement"},
		Version:      1,
	}

	merged, issues := m.Merge(Group{ParcelNumber: "WA-002", Records: []domain.LandRecord{land, registry}})

	assert.Equal(t, "TD-9", merged.TitleDeedNumber)
	assert.ElementsMatch(t, []string{"mortgage", "easement"}, merged.Encumbrances)
	assert.Empty(t, issues)
}

func TestMerge_MissingTitleDeedDespiteRegistryIsHighSeverity(t *testing.T) {
	m := New()
	registry := domain.LandRecord{SourceSystem: domain.SourceRegistry, ParcelNumber: "WA-003", Version: 1}

	_, issues := m.Merge(Group{ParcelNumber: "WA-003", Records: []domain.LandRecord{registry}})

	require.Len(t, issues, 1)
	assert.Equal(t, "titleDeedNumber", issues[0].Field)
	assert.Equal(t, domain.SeverityHigh, issues[0].Severity)
}

func TestMerge_QualityScoreBumpsWithSourceCount(t *testing.T) {
	m := New()
	land := domain.LandRecord{SourceSystem: domain.SourceLandAuthority, ParcelNumber: "WA-004", QualityScore: 70, Version: 1}
	revenue := domain.LandRecord{SourceSystem: domain.SourceRevenueAuthority, ParcelNumber: "WA-004", TaxStatus: domain.TaxCompliant, Version: 1}
	registry := domain.LandRecord{SourceSystem: domain.SourceRegistry, ParcelNumber: "WA-004", TitleDeedNumber: "TD-1", Version: 1}

	merged, _ := m.Merge(Group{ParcelNumber: "WA-004", Records: []domain.LandRecord{land, revenue, registry}})

	assert.Equal(t, 100, merged.QualityScore)
}

func TestWindow_FlushesOnCompleteness(t *testing.T) {
	w := NewWindow(WindowOptions{ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority, domain.SourceRevenueAuthority}})

	flushed := w.Add(domain.LandRecord{ParcelNumber: "P1", SourceSystem: domain.SourceLandAuthority})
	assert.Empty(t, flushed)

	flushed = w.Add(domain.LandRecord{ParcelNumber: "P1", SourceSystem: domain.SourceRevenueAuthority})
	require.Len(t, flushed, 1)
	assert.Len(t, flushed[0].Records, 2)
}

func TestWindow_EvictsOldestWhenFull(t *testing.T) {
	w := NewWindow(WindowOptions{ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority, domain.SourceRevenueAuthority, domain.SourceRegistry}, MaxGroups: 1})

	flushed := w.Add(domain.LandRecord{ParcelNumber: "OLD", SourceSystem: domain.SourceLandAuthority})
	assert.Empty(t, flushed)

	flushed = w.Add(domain.LandRecord{ParcelNumber: "NEW", SourceSystem: domain.SourceLandAuthority})
	require.Len(t, flushed, 1)
	assert.Equal(t, "OLD", flushed[0].ParcelNumber)

	// The triggering record that forced the eviction must not be dropped: it
	// has to be retained in its own (newly started) entry, retrievable on a
	// later flush rather than lost.
	drained := w.Flush()
	require.Len(t, drained, 1)
	assert.Equal(t, "NEW", drained[0].ParcelNumber)
	require.Len(t, drained[0].Records, 1)
	assert.Equal(t, "NEW", drained[0].Records[0].ParcelNumber)
}

func TestWindow_FlushDrainsAllRemaining(t *testing.T) {
	w := NewWindow(WindowOptions{ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority, domain.SourceRevenueAuthority, domain.SourceRegistry}})
	w.Add(domain.LandRecord{ParcelNumber: "A", SourceSystem: domain.SourceLandAuthority})
	w.Add(domain.LandRecord{ParcelNumber: "B", SourceSystem: domain.SourceRegistry})

	groups := w.Flush()
	assert.Len(t, groups, 2)
}

func TestWindow_SweepFlushesStaleGroups(t *testing.T) {
	w := NewWindow(WindowOptions{
		ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority, domain.SourceRevenueAuthority},
		MaxAge:          time.Millisecond,
	})
	w.Add(domain.LandRecord{ParcelNumber: "STALE", SourceSystem: domain.SourceLandAuthority})
	time.Sleep(2 * time.Millisecond)

	flushed := w.Sweep()
	require.Len(t, flushed, 1)
	assert.Equal(t, "STALE", flushed[0].ParcelNumber)
}
