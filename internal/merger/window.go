package merger

import (
	"container/list"
	"sync"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/domain"
)

// WindowOptions configures the streaming bounded-window grouper.
type WindowOptions struct {
	// ExpectedSources is the set of sources a group is considered complete
	// once all are present. Groups flush early when this set is satisfied.
	ExpectedSources []domain.SourceSystem
	// MaxAge flushes a group that has waited longer than this since its first
	// record arrived, even if not all expected sources showed up.
	MaxAge time.Duration
	// MaxGroups bounds in-flight parcels; the spec calls for this to be sized
	// at roughly 10x the normalizer's batch size so a single slow source
	// cannot unbound memory. When full, the oldest group is flushed to make
	// room for a newly-seen parcel.
	MaxGroups int
}

// DefaultWindowOptions returns the documented defaults: a 3-source expectation
// (LAND_AUTHORITY, REVENUE_AUTHORITY, REGISTRY), a 30s max age, and room for
// 1000 in-flight groups.
func DefaultWindowOptions() WindowOptions {
	return WindowOptions{
		ExpectedSources: []domain.SourceSystem{domain.SourceLandAuthority, domain.SourceRevenueAuthority, domain.SourceRegistry},
		MaxAge:          30 * time.Second,
		MaxGroups:       1000,
	}
}

// entry tracks one in-flight parcel group alongside its arrival order, so the
// oldest can be evicted in O(1) when the window is full.
type entry struct {
	parcelNumber string
	records      []domain.LandRecord
	seen         map[domain.SourceSystem]struct{}
	firstSeen    time.Time
	elem         *list.Element
}

// Window groups a stream of single-source LandRecords by parcelNumber,
// flushing a Group once it is complete, stale, or evicted for space.
//
// This is implemented directly on a mutex-guarded map and a doubly linked
// list kept in arrival order for oldest-first eviction rather than a third-party streaming
// library: the pack's examples reach for Kafka/NATS-consumer-group libraries
// for distributed stream partitioning, not for this kind of single-process
// bounded accumulation, and pulling one in here would add a dependency with
// no matching concern to exercise.
type Window struct {
	opts WindowOptions
	mu   sync.Mutex
	byID map[string]*entry
	lru  *list.List
}

// NewWindow constructs a Window with the given options, filling zero values
// from DefaultWindowOptions.
func NewWindow(opts WindowOptions) *Window {
	defaults := DefaultWindowOptions()
	if len(opts.ExpectedSources) == 0 {
		opts.ExpectedSources = defaults.ExpectedSources
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = defaults.MaxAge
	}
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = defaults.MaxGroups
	}
	return &Window{opts: opts, byID: make(map[string]*entry), lru: list.New()}
}

// Add folds rec into its parcel's group, returning every Group that should
// flush as a result: the evicted group when the window was full and a new
// parcel had to make room for rec, and/or rec's own group once it completes.
// rec itself is always retained in its (possibly newly started) entry before
// either flush is computed, so a full window never drops the triggering
// record.
func (w *Window) Add(rec domain.LandRecord) []Group {
	w.mu.Lock()
	defer w.mu.Unlock()

	var flushed []Group

	e, ok := w.byID[rec.ParcelNumber]
	if !ok {
		if w.lru.Len() >= w.opts.MaxGroups {
			flushed = append(flushed, w.evictOldestLocked())
		}
		e = w.startLocked(rec)
	}

	e.records = append(e.records, rec)
	e.seen[rec.SourceSystem] = struct{}{}

	if w.complete(e) {
		flushed = append(flushed, w.popLocked(rec.ParcelNumber))
	}

	return flushed
}

// Sweep flushes any group older than MaxAge, regardless of completeness.
// Callers should invoke this periodically (e.g. on a ticker) alongside Add.
func (w *Window) Sweep() []Group {
	w.mu.Lock()
	defer w.mu.Unlock()

	var flushed []Group
	now := time.Now()
	for el := w.lru.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if now.Sub(e.firstSeen) < w.opts.MaxAge {
			break
		}
		flushed = append(flushed, w.popLocked(e.parcelNumber))
		el = next
	}
	return flushed
}

// Flush drains every remaining in-flight group; callers invoke this once the
// input stream is exhausted, per the end-of-input flush requirement.
func (w *Window) Flush() []Group {
	w.mu.Lock()
	defer w.mu.Unlock()

	var flushed []Group
	for w.lru.Len() > 0 {
		e := w.lru.Front().Value.(*entry)
		flushed = append(flushed, w.popLocked(e.parcelNumber))
	}
	return flushed
}

func (w *Window) startLocked(rec domain.LandRecord) *entry {
	e := &entry{parcelNumber: rec.ParcelNumber, seen: make(map[domain.SourceSystem]struct{}), firstSeen: time.Now()}
	e.elem = w.lru.PushBack(e)
	w.byID[rec.ParcelNumber] = e
	return e
}

func (w *Window) complete(e *entry) bool {
	for _, s := range w.opts.ExpectedSources {
		if _, ok := e.seen[s]; !ok {
			return false
		}
	}
	return true
}

func (w *Window) popLocked(parcelNumber string) Group {
	e := w.byID[parcelNumber]
	delete(w.byID, parcelNumber)
	w.lru.Remove(e.elem)
	return Group{ParcelNumber: parcelNumber, Records: e.records}
}

func (w *Window) evictOldestLocked() Group {
	e := w.lru.Front().Value.(*entry)
	return w.popLocked(e.parcelNumber)
}
