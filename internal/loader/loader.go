// Package loader persists merged LandRecords to the destination store inside
// a single transaction per record: upsert, PII encryption, child-table
// replacement, and an audit log entry.
package loader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/landrecords-sl/etl-pipeline/internal/crypto"
	"github.com/landrecords-sl/etl-pipeline/internal/domain"
	pipelineerrors "github.com/landrecords-sl/etl-pipeline/internal/errors"
	"github.com/landrecords-sl/etl-pipeline/internal/storage/postgres"
)

// Target-region coordinate bounds a persisted record's geometry must satisfy.
const (
	minLatitude  = 6.9
	maxLatitude  = 10.0
	minLongitude = -13.5
	maxLongitude = -10.2
)

// vertex is a boundary point validated against the target-region bounds.
type vertex struct {
	Lat float64 `validate:"gte=6.9,lte=10.0"`
	Lng float64 `validate:"gte=-13.5,lte=-10.2"`
}

// invariants mirrors the persisted-record invariants in the data model: a
// positive area, in-bounds coordinates when present, and a boundary ring of
// at least 3 in-bounds vertices when present.
type invariants struct {
	Area       float64  `validate:"gt=0"`
	Lat        *float64 `validate:"omitempty,gte=6.9,lte=10.0"`
	Lng        *float64 `validate:"omitempty,gte=-13.5,lte=-10.2"`
	Boundaries []vertex `validate:"omitempty,min=3,dive"`
}

// LoadError describes one record that failed to persist; it never aborts the
// rest of the batch.
type LoadError struct {
	ParcelNumber string
	Reason       string
}

// LoadResult summarizes the outcome of one LoadBatch call.
type LoadResult struct {
	RecordsLoaded  int
	RecordsUpdated int
	RecordsSkipped int
	Errors         []LoadError
}

// Loader upserts UNIFIED LandRecords into the destination Postgres store.
type Loader struct {
	base     *postgres.BaseStore
	db       *sqlx.DB
	enc      crypto.EncryptionService
	validate *validator.Validate
}

// New constructs a Loader around an already-connected pool.
func New(db *sql.DB, enc crypto.EncryptionService) *Loader {
	return &Loader{
		base:     postgres.NewBaseStore(db, "land_records"),
		db:       sqlx.NewDb(db, "pgx"),
		enc:      enc,
		validate: validator.New(),
	}
}

// validateInvariants reports the first persisted-record invariant rec
// violates, or nil if it satisfies all of them.
func (l *Loader) validateInvariants(rec domain.LandRecord) error {
	inv := invariants{Area: rec.Area}
	if rec.Coordinates != nil {
		inv.Lat = &rec.Coordinates.Latitude
		inv.Lng = &rec.Coordinates.Longitude
	}
	if len(rec.Boundaries) > 0 {
		inv.Boundaries = make([]vertex, len(rec.Boundaries))
		for i, c := range rec.Boundaries {
			inv.Boundaries[i] = vertex{Lat: c.Latitude, Lng: c.Longitude}
		}
	}
	return l.validate.Struct(inv)
}

// LoadBatch persists records one transaction each, so a single bad record
// cannot roll back its siblings. runID is stamped on every audit log row.
func (l *Loader) LoadBatch(ctx context.Context, runID string, records []domain.LandRecord) LoadResult {
	result := LoadResult{}

	for _, rec := range records {
		updated, err := l.loadOne(ctx, runID, rec)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, LoadError{ParcelNumber: rec.ParcelNumber, Reason: err.Error()})
		case updated == outcomeSkipped:
			result.RecordsSkipped++
		case updated == outcomeUpdated:
			result.RecordsUpdated++
		default:
			result.RecordsLoaded++
		}
	}

	return result
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeSkipped
)

func (l *Loader) loadOne(ctx context.Context, runID string, rec domain.LandRecord) (outcome, error) {
	var result outcome

	err := l.base.WithTx(ctx, func(ctx context.Context) error {
		previousVersion, existed, err := l.currentVersion(ctx, rec.ParcelNumber)
		if err != nil {
			return pipelineerrors.LoadBatch("land_records", 1, err)
		}
		if err := l.validateInvariants(rec); err != nil {
			result = outcomeSkipped
			return nil
		}

		// The loader owns the persisted version, not the merged record: a
		// fresh parcel starts at 1, an existing one is bumped by exactly 1
		// regardless of what version the merge stage stamped on rec.
		if existed {
			rec.Version = previousVersion + 1
		} else {
			rec.Version = 1
		}

		if err := l.upsert(ctx, rec); err != nil {
			return pipelineerrors.LoadBatch("land_records", 1, err)
		}
		if err := l.replacePreviousOwners(ctx, rec); err != nil {
			return pipelineerrors.LoadBatch("land_record_previous_owners", 1, err)
		}
		if err := l.replaceStructures(ctx, rec); err != nil {
			return pipelineerrors.LoadBatch("land_record_structures", 1, err)
		}
		if err := l.replaceDisputes(ctx, rec); err != nil {
			return pipelineerrors.LoadBatch("land_record_disputes", 1, err)
		}
		if err := l.audit(ctx, runID, rec, previousVersion, existed); err != nil {
			return pipelineerrors.LoadBatch("land_record_audit_log", 1, err)
		}

		if existed {
			result = outcomeUpdated
		} else {
			result = outcomeInserted
		}
		return nil
	})
	if err != nil {
		return outcomeSkipped, err
	}
	return result, nil
}

func (l *Loader) currentVersion(ctx context.Context, parcelNumber string) (int, bool, error) {
	var version int
	err := l.base.QueryRowContext(ctx,
		`SELECT version FROM land_records WHERE parcel_number = $1`, parcelNumber,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, true, nil
}

func (l *Loader) upsert(ctx context.Context, rec domain.LandRecord) error {
	var nationalIDEnc, nationalIDHash, phoneEnc, phoneHash, emailEnc string
	var err error
	if rec.Owner.NationalID != "" {
		if nationalIDEnc, err = l.enc.Encrypt(rec.Owner.NationalID); err != nil {
			return fmt.Errorf("encrypt national id: %w", err)
		}
		nationalIDHash = l.enc.Hash(rec.Owner.NationalID)
	}
	if rec.Owner.Phone != "" {
		if phoneEnc, err = l.enc.Encrypt(rec.Owner.Phone); err != nil {
			return fmt.Errorf("encrypt phone: %w", err)
		}
		phoneHash = l.enc.Hash(rec.Owner.Phone)
	}
	if rec.Owner.Email != "" {
		if emailEnc, err = l.enc.Encrypt(rec.Owner.Email); err != nil {
			return fmt.Errorf("encrypt email: %w", err)
		}
	}

	var lat, lng sql.NullFloat64
	if rec.Coordinates != nil {
		lat = sql.NullFloat64{Float64: rec.Coordinates.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: rec.Coordinates.Longitude, Valid: true}
	}
	var boundaries any
	if len(rec.Boundaries) > 0 {
		raw, err := json.Marshal(rec.Boundaries)
		if err != nil {
			return fmt.Errorf("marshal boundaries: %w", err)
		}
		boundaries = raw
	}

	_, err = l.base.ExecContext(ctx, `
		INSERT INTO land_records (
			id, parcel_number, source_system, version, created_at, updated_at,
			district, chiefdom, ward, address, latitude, longitude,
			owner_name, owner_national_id_enc, owner_national_id_hash,
			owner_phone_enc, owner_phone_hash, owner_email_enc,
			land_type, area, land_use,
			current_value, last_valuation_date, tax_assessment,
			title_deed_number, encumbrances,
			tax_status, last_payment_date, arrears_amount,
			verification_status, last_verification_date, verification_method,
			quality_score, boundaries
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18,
			$19, $20, $21,
			$22, $23, $24,
			$25, $26,
			$27, $28, $29,
			$30, $31, $32,
			$33, $34
		)
		ON CONFLICT (parcel_number) DO UPDATE SET
			source_system = EXCLUDED.source_system,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			district = EXCLUDED.district,
			chiefdom = EXCLUDED.chiefdom,
			ward = EXCLUDED.ward,
			address = EXCLUDED.address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			owner_name = EXCLUDED.owner_name,
			owner_national_id_enc = EXCLUDED.owner_national_id_enc,
			owner_national_id_hash = EXCLUDED.owner_national_id_hash,
			owner_phone_enc = EXCLUDED.owner_phone_enc,
			owner_phone_hash = EXCLUDED.owner_phone_hash,
			owner_email_enc = EXCLUDED.owner_email_enc,
			land_type = EXCLUDED.land_type,
			area = EXCLUDED.area,
			land_use = EXCLUDED.land_use,
			current_value = EXCLUDED.current_value,
			last_valuation_date = EXCLUDED.last_valuation_date,
			tax_assessment = EXCLUDED.tax_assessment,
			title_deed_number = EXCLUDED.title_deed_number,
			encumbrances = EXCLUDED.encumbrances,
			tax_status = EXCLUDED.tax_status,
			last_payment_date = EXCLUDED.last_payment_date,
			arrears_amount = EXCLUDED.arrears_amount,
			verification_status = EXCLUDED.verification_status,
			last_verification_date = EXCLUDED.last_verification_date,
			verification_method = EXCLUDED.verification_method,
			quality_score = EXCLUDED.quality_score,
			boundaries = EXCLUDED.boundaries
	`,
		rec.ID, rec.ParcelNumber, string(rec.SourceSystem), rec.Version, rec.CreatedAt, rec.UpdatedAt,
		rec.District, rec.Chiefdom, rec.Ward, rec.Address, lat, lng,
		rec.Owner.Name, nationalIDEnc, nationalIDHash,
		phoneEnc, phoneHash, emailEnc,
		string(rec.LandType), rec.Area, rec.LandUse,
		rec.CurrentValue, rec.LastValuationDate, rec.TaxAssessment,
		rec.TitleDeedNumber, pq.Array(rec.Encumbrances),
		string(rec.TaxStatus), rec.LastPaymentDate, rec.ArrearsAmount,
		string(rec.VerificationStatus), rec.LastVerificationDate, rec.VerificationMethod,
		rec.QualityScore, boundaries,
	)
	return err
}

func (l *Loader) replacePreviousOwners(ctx context.Context, rec domain.LandRecord) error {
	if _, err := l.base.ExecContext(ctx, `DELETE FROM land_record_previous_owners WHERE land_record_id = $1`, rec.ID); err != nil {
		return err
	}
	const query = `INSERT INTO land_record_previous_owners (land_record_id, name, owned_from, owned_to)
		 VALUES (:land_record_id, :name, :owned_from, :owned_to)`
	for _, o := range rec.PreviousOwners {
		row := previousOwnerRow{LandRecordID: rec.ID, Name: o.Name, OwnedFrom: o.From, OwnedTo: o.To}
		if err := l.execNamed(ctx, query, row); err != nil {
			return err
		}
	}
	return nil
}

type previousOwnerRow struct {
	LandRecordID string     `db:"land_record_id"`
	Name         string     `db:"name"`
	OwnedFrom    time.Time  `db:"owned_from"`
	OwnedTo      *time.Time `db:"owned_to"`
}

func (l *Loader) replaceStructures(ctx context.Context, rec domain.LandRecord) error {
	if _, err := l.base.ExecContext(ctx, `DELETE FROM land_record_structures WHERE land_record_id = $1`, rec.ID); err != nil {
		return err
	}
	const query = `INSERT INTO land_record_structures (land_record_id, structure_type, year_built, condition)
		 VALUES (:land_record_id, :structure_type, :year_built, :condition)`
	for _, s := range rec.Structures {
		row := structureRow{LandRecordID: rec.ID, StructureType: s.Type, YearBuilt: s.YearBuilt, Condition: s.Condition}
		if err := l.execNamed(ctx, query, row); err != nil {
			return err
		}
	}
	return nil
}

type structureRow struct {
	LandRecordID  string `db:"land_record_id"`
	StructureType string `db:"structure_type"`
	YearBuilt     *int   `db:"year_built"`
	Condition     string `db:"condition"`
}

func (l *Loader) replaceDisputes(ctx context.Context, rec domain.LandRecord) error {
	if _, err := l.base.ExecContext(ctx, `DELETE FROM land_record_disputes WHERE land_record_id = $1`, rec.ID); err != nil {
		return err
	}
	const query = `INSERT INTO land_record_disputes (land_record_id, dispute_type, status, filed_date)
		 VALUES (:land_record_id, :dispute_type, :status, :filed_date)`
	for _, d := range rec.Disputes {
		row := disputeRow{LandRecordID: rec.ID, DisputeType: d.Type, Status: d.Status, FiledDate: d.FiledDate}
		if err := l.execNamed(ctx, query, row); err != nil {
			return err
		}
	}
	return nil
}

// execNamed binds a named query against arg and executes it through the
// base store so the statement runs inside whatever transaction ctx carries —
// sqlx's own NamedExecContext always goes through its *sqlx.DB, which would
// bypass the per-record transaction entirely.
func (l *Loader) execNamed(ctx context.Context, query string, arg any) error {
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return err
	}
	bound = l.db.Rebind(bound)
	_, err = l.base.ExecContext(ctx, bound, args...)
	return err
}

type disputeRow struct {
	LandRecordID string    `db:"land_record_id"`
	DisputeType  string    `db:"dispute_type"`
	Status       string    `db:"status"`
	FiledDate    time.Time `db:"filed_date"`
}

func (l *Loader) audit(ctx context.Context, runID string, rec domain.LandRecord, previousVersion int, existed bool) error {
	action := "insert"
	var prev sql.NullInt64
	if existed {
		action = "update"
		prev = sql.NullInt64{Int64: int64(previousVersion), Valid: true}
	}
	changes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	_, err = l.base.ExecContext(ctx, `
		INSERT INTO land_record_audit_log (land_record_id, run_id, action, source_system, changes, previous_version, new_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, runID, action, string(rec.SourceSystem), changes, prev, rec.Version)
	return err
}
