// Package services – inspection provider intake
//
// Inspection results arrive from an external provider as loosely shaped
// maps keyed by device. They are enqueued like any other raw record; the
// normalizer's alias table handles their field names.
package services

import (
	"context"
	"errors"
)

// InspectionSource fetches per-device inspection data from a provider.
type InspectionSource interface {
	Fetch(ctx context.Context, deviceIDs []string) ([]map[string]any, error)
}

// IngestInspections fetches results for deviceIDs and enqueues them.
func (s *QueueService) IngestInspections(ctx context.Context, src InspectionSource, deviceIDs []string) (*EnqueueResult, error) {
	const op = "queue.ingest_inspections"
	if src == nil {
		return nil, newError(KindValidation, op, errors.New("no inspection source configured"))
	}
	ids := dedupe(deviceIDs)
	if len(ids) == 0 {
		return &EnqueueResult{IDs: []string{}, Rejected: []Rejection{}}, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.opTimeout())
	defer cancel()
	raws, err := src.Fetch(fctx, ids)
	if err != nil {
		return nil, classify(op, KindProcessing, err)
	}
	return s.Enqueue(ctx, raws)
}
