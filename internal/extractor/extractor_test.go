package extractor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landrecords-sl/etl-pipeline/internal/extractor"
	"github.com/landrecords-sl/etl-pipeline/internal/resilience"
	"github.com/landrecords-sl/etl-pipeline/internal/testsupport"
)

func recordsWithParcels(n int) []extractor.RawRecord {
	out := make([]extractor.RawRecord, n)
	for i := range out {
		out[i] = extractor.RawRecord{"id": string(rune('a' + i)), "parcelNumber": "WA-00" + string(rune('0'+i))}
	}
	return out
}

func drain(t *testing.T, items <-chan extractor.Item) []extractor.Item {
	t.Helper()
	var out []extractor.Item
	for it := range items {
		out = append(out, it)
	}
	return out
}

func TestExtractAll_PageLargerThanSourceYieldsEachRecordOnce(t *testing.T) {
	adapter := testsupport.NewFakeAdapter("LAND_AUTHORITY", recordsWithParcels(3)...)
	breaker := resilience.NewCircuitBreaker("t", resilience.DefaultBreakerConfig())
	e := extractor.New(adapter, breaker, extractor.Config{PageSize: 100, PoliteDelay: time.Millisecond})

	items := drain(t, e.ExtractAll(context.Background()))

	require.Len(t, items, 3)
	seen := make(map[string]int)
	for _, it := range items {
		require.Nil(t, it.Err)
		id, _ := it.Record["id"].(string)
		seen[id]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, "record %s delivered more than once", id)
	}
}

func TestExtractAll_PagesAcrossMultiplePagesWithoutDuplication(t *testing.T) {
	adapter := testsupport.NewFakeAdapter("LAND_AUTHORITY", recordsWithParcels(5)...)
	breaker := resilience.NewCircuitBreaker("t", resilience.DefaultBreakerConfig())
	e := extractor.New(adapter, breaker, extractor.Config{PageSize: 2, PoliteDelay: time.Millisecond})

	items := drain(t, e.ExtractAll(context.Background()))

	require.Len(t, items, 5)
	seen := make(map[string]int)
	for _, it := range items {
		require.Nil(t, it.Err)
		id, _ := it.Record["id"].(string)
		seen[id]++
	}
	assert.Len(t, seen, 5)
	for id, count := range seen {
		assert.Equal(t, 1, count, "record %s delivered more than once", id)
	}
}

func TestExtractAll_ReportsProgressWithKnownTotal(t *testing.T) {
	adapter := testsupport.NewFakeAdapter("LAND_AUTHORITY", recordsWithParcels(4)...)
	breaker := resilience.NewCircuitBreaker("t", resilience.DefaultBreakerConfig())

	var lastProgress extractor.Progress
	e := extractor.New(adapter, breaker, extractor.Config{
		PageSize:    2,
		PoliteDelay: time.Millisecond,
		OnProgress:  func(p extractor.Progress) { lastProgress = p },
	})

	drain(t, e.ExtractAll(context.Background()))

	require.NotNil(t, lastProgress.Total)
	assert.Equal(t, 4, *lastProgress.Total)
	assert.Equal(t, 4, lastProgress.Extracted)
}

func TestExtractAll_PropagatesFatalPageError(t *testing.T) {
	adapter := testsupport.NewFakeAdapter("LAND_AUTHORITY", recordsWithParcels(1)...)
	adapter.FailNextQuery(assert.AnError)
	breaker := resilience.NewCircuitBreaker("t", resilience.DefaultBreakerConfig())
	e := extractor.New(adapter, breaker, extractor.Config{
		PageSize:     2,
		PoliteDelay:  time.Millisecond,
		RetryOptions: resilience.RetryOptions{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})

	items := drain(t, e.ExtractAll(context.Background()))

	require.Len(t, items, 1)
	require.NotNil(t, items[0].Err)
	assert.Equal(t, "LAND_AUTHORITY", items[0].Err.Source)
}
