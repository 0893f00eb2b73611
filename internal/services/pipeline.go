// Package services – Pipeline
//
// This file implements the upsert pipeline: given one normalized record it
// writes location, product, attributes, inspection, inventory count and a
// movement entry in that order, inside a single transaction. Any failure
// rolls back every step.
//
// The SKU-master matcher is consulted before the transaction opens so a
// slow catalog never holds database locks. Its outcome is recorded inside
// the transaction, and only a high-confidence match replaces the generated
// SKU (before the inventory step, so counts aggregate under the final SKU).
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/intake"
	"github.com/tbourn/device-intake/internal/observability"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/sku"
	"github.com/tbourn/device-intake/internal/skumatch"

	// OpenTelemetry
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMatchThreshold is the confidence at or above which a catalog match
// overwrites the generated SKU.
const DefaultMatchThreshold = 0.85

// reviewFloor is the confidence below which a candidate is recorded as
// no_match instead of review.
const reviewFloor = 0.5

// Matcher is the SKU-master lookup boundary.
type Matcher interface {
	Match(ctx context.Context, q skumatch.Query) (skumatch.Result, bool, error)
}

// InventoryStore performs the individual pipeline writes. Every method
// receives the pipeline's transaction handle.
type InventoryStore interface {
	FindOrCreateLocation(ctx context.Context, tx *gorm.DB, name string) (*domain.Location, error)
	InsertProductIfAbsent(ctx context.Context, tx *gorm.DB, p *domain.Product) (bool, error)
	LockProduct(ctx context.Context, tx *gorm.DB, deviceID string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, tx *gorm.DB, p *domain.Product) error
	UpsertAttributes(ctx context.Context, tx *gorm.DB, a *domain.DeviceAttributes) error
	UpsertInspection(ctx context.Context, tx *gorm.DB, r *domain.InspectionResult) error
	RecordSkuMatch(ctx context.Context, tx *gorm.DB, r *domain.SkuMatchResult) error
	IncrementInventory(ctx context.Context, tx *gorm.DB, sku string, locationID uint, qty int, working domain.TriState) (*domain.InventoryCount, error)
	AppendMovement(ctx context.Context, tx *gorm.DB, m *domain.MovementRecord) error
}

// RepoStore is the InventoryStore backed by the repo package.
type RepoStore struct{}

func (RepoStore) FindOrCreateLocation(ctx context.Context, tx *gorm.DB, name string) (*domain.Location, error) {
	return repo.FindOrCreateLocation(ctx, tx, name)
}

func (RepoStore) InsertProductIfAbsent(ctx context.Context, tx *gorm.DB, p *domain.Product) (bool, error) {
	return repo.InsertProductIfAbsent(ctx, tx, p)
}

func (RepoStore) LockProduct(ctx context.Context, tx *gorm.DB, deviceID string) (*domain.Product, error) {
	return repo.LockProduct(ctx, tx, deviceID)
}

func (RepoStore) UpdateProduct(ctx context.Context, tx *gorm.DB, p *domain.Product) error {
	return repo.UpdateProduct(ctx, tx, p)
}

func (RepoStore) UpsertAttributes(ctx context.Context, tx *gorm.DB, a *domain.DeviceAttributes) error {
	return repo.UpsertAttributes(ctx, tx, a)
}

func (RepoStore) UpsertInspection(ctx context.Context, tx *gorm.DB, r *domain.InspectionResult) error {
	return repo.UpsertInspection(ctx, tx, r)
}

func (RepoStore) RecordSkuMatch(ctx context.Context, tx *gorm.DB, r *domain.SkuMatchResult) error {
	return repo.CreateSkuMatch(ctx, tx, r)
}

func (RepoStore) IncrementInventory(ctx context.Context, tx *gorm.DB, sku string, locationID uint, qty int, working domain.TriState) (*domain.InventoryCount, error) {
	return repo.IncrementInventory(ctx, tx, sku, locationID, qty, working)
}

func (RepoStore) AppendMovement(ctx context.Context, tx *gorm.DB, m *domain.MovementRecord) error {
	return repo.AppendMovement(ctx, tx, m)
}

// Pipeline writes normalized records into the inventory hierarchy.
type Pipeline struct {
	DB *gorm.DB

	// Store defaults to RepoStore.
	Store InventoryStore

	// Matcher is optional; nil skips catalog matching.
	Matcher        Matcher
	MatchThreshold float64

	// OpTimeout bounds one record (matcher call plus transaction).
	OpTimeout time.Duration
}

// Outcome describes what Process wrote for one record.
type Outcome struct {
	DeviceID     string                 `json:"device_id"`
	SKU          string                 `json:"sku"`
	GeneratedSKU string                 `json:"generated_sku"`
	Created      bool                   `json:"created"`
	LocationID   uint                   `json:"location_id"`
	Match        *domain.SkuMatchResult `json:"match,omitempty"`
	Inventory    *domain.InventoryCount `json:"inventory"`
	Movement     *domain.MovementRecord `json:"movement"`
}

// Process runs the pipeline for rec.
func (p *Pipeline) Process(ctx context.Context, rec intake.Record) (*Outcome, error) {
	return p.process(ctx, rec, "", nil)
}

// process runs the pipeline. within, when set, runs last inside the same
// transaction; the queue uses it to mark its row completed atomically with
// the writes.
func (p *Pipeline) process(ctx context.Context, rec intake.Record, queueID string, within func(tx *gorm.DB) error) (*Outcome, error) {
	const op = "pipeline.process"

	tr := observability.Tracer(observability.TracerPipeline)
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("device.id", rec.DeviceID),
			attribute.String("queue.id", queueID),
		),
	)
	defer span.End()

	if rec.DeviceID == "" {
		return nil, newError(KindValidation, op, intake.ErrMissingDeviceID)
	}
	if p.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.OpTimeout)
		defer cancel()
	}
	store := p.Store
	if store == nil {
		store = RepoStore{}
	}

	out := &Outcome{DeviceID: rec.DeviceID}
	out.GeneratedSKU = sku.Generate(rec.Brand, rec.Model, rec.Storage, rec.Color, rec.Carrier)
	out.SKU = out.GeneratedSKU

	match, err := p.match(ctx, rec, out.GeneratedSKU, queueID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	out.Match = match

	err = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. location
		loc, err := store.FindOrCreateLocation(ctx, tx, rec.LocationName)
		if err != nil {
			return classify("location", KindProcessing, err)
		}
		out.LocationID = loc.ID

		// 2. SKU, with a high-confidence catalog match taking precedence
		if match != nil && match.Status == domain.MatchStatusMatched && match.MatchedSKU != nil {
			out.SKU = *match.MatchedSKU
		}

		// 3. product: insert-if-absent, then lock and update the existing row
		prod := &domain.Product{
			DeviceID:    rec.DeviceID,
			SKU:         out.SKU,
			Brand:       rec.Brand,
			DisplayName: rec.DisplayName,
			LocationID:  loc.ID,
		}
		created, err := store.InsertProductIfAbsent(ctx, tx, prod)
		if err != nil {
			return classify("product", KindProcessing, err)
		}
		var from *uint
		if created {
			out.Created = true
		} else {
			existing, err := store.LockProduct(ctx, tx, rec.DeviceID)
			if err != nil {
				return classify("product", KindProcessing, err)
			}
			prev := existing.LocationID
			from = &prev
			existing.SKU = out.SKU
			existing.Brand = rec.Brand
			existing.DisplayName = rec.DisplayName
			existing.LocationID = loc.ID
			if err := store.UpdateProduct(ctx, tx, existing); err != nil {
				return classify("product", KindProcessing, err)
			}
		}

		// 4. attributes and inspection
		attrs := &domain.DeviceAttributes{
			DeviceID:      rec.DeviceID,
			Model:         rec.Model,
			Storage:       rec.Storage,
			Color:         rec.Color,
			Carrier:       rec.Carrier,
			BatteryHealth: rec.BatteryHealth,
			Working:       rec.Working,
			Notes:         rec.Notes,
		}
		if err := store.UpsertAttributes(ctx, tx, attrs); err != nil {
			return classify("attributes", KindProcessing, err)
		}
		insp := &domain.InspectionResult{
			DeviceID:   rec.DeviceID,
			Passed:     rec.Working,
			DefectText: rec.DefectText,
			TestNotes:  rec.Notes,
		}
		if err := store.UpsertInspection(ctx, tx, insp); err != nil {
			return classify("inspection", KindProcessing, err)
		}
		if match != nil {
			if err := store.RecordSkuMatch(ctx, tx, match); err != nil {
				return classify("sku_match", KindProcessing, err)
			}
		}

		// 5. inventory count
		inv, err := store.IncrementInventory(ctx, tx, out.SKU, loc.ID, rec.Quantity, rec.Working)
		if err != nil {
			return classify("inventory", KindProcessing, err)
		}
		out.Inventory = inv

		// 6. movement
		mv := &domain.MovementRecord{
			DeviceID:       rec.DeviceID,
			FromLocationID: from,
			ToLocationID:   loc.ID,
			Status:         rec.Working,
			QueueRecordID:  queueID,
		}
		if err := store.AppendMovement(ctx, tx, mv); err != nil {
			return classify("movement", KindProcessing, err)
		}
		out.Movement = mv

		if within != nil {
			return within(tx)
		}
		return nil
	})
	if err != nil {
		err = classify(op, KindProcessing, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("sku", out.SKU), attribute.Bool("created", out.Created))
	return out, nil
}

// match consults the catalog and converts the answer into the row that
// will be recorded. Timeouts fail the record so it can be retried; other
// matcher errors degrade to no_match and keep the generated SKU.
func (p *Pipeline) match(ctx context.Context, rec intake.Record, generated, queueID string) (*domain.SkuMatchResult, error) {
	if p.Matcher == nil {
		return nil, nil
	}
	threshold := p.MatchThreshold
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	res, ok, err := p.Matcher.Match(ctx, skumatch.Query{
		GeneratedSKU: generated,
		Brand:        rec.Brand,
		Model:        rec.Model,
		Storage:      rec.Storage,
		Color:        rec.Color,
	})
	row := &domain.SkuMatchResult{
		DeviceID:      rec.DeviceID,
		QueueRecordID: queueID,
		GeneratedSKU:  generated,
		Status:        domain.MatchStatusNone,
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, newError(KindTimeout, "sku_match", err)
		}
		log.Warn().Err(err).Str("device_id", rec.DeviceID).Msg("sku matcher failed; keeping generated sku")
		row.Method = "error"
		return row, nil
	}
	if !ok {
		return row, nil
	}

	matched := res.SKU
	row.MatchedSKU = &matched
	row.Confidence = res.Confidence
	row.Method = res.Method
	switch {
	case res.Confidence >= threshold:
		row.Status = domain.MatchStatusMatched
	case res.Confidence >= reviewFloor:
		row.Status = domain.MatchStatusReview
	}
	return row, nil
}
