package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), KindTimeout},
		{"canceled", context.Canceled, KindTimeout},
		{"not found", gorm.ErrRecordNotFound, KindNotFound},
		{"duplicated key", gorm.ErrDuplicatedKey, KindConflict},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: products.device_id (2067)"), KindConflict},
		{"postgres unique", errors.New(`ERROR: duplicate key value violates unique constraint "ux_locations_key"`), KindConflict},
		{"other", errors.New("disk I/O error"), KindProcessing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", KindProcessing, tc.err)
			if got := KindOf(err); got != tc.want {
				t.Fatalf("kind = %q, want %q (err=%v)", got, tc.want, err)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("classified error lost its cause")
			}
		})
	}
}

func TestClassify_PassesThroughClassified(t *testing.T) {
	orig := newError(KindConflict, "inner", errors.New("boom"))
	if got := classify("outer", KindProcessing, orig); got != error(orig) {
		t.Fatalf("classify rewrapped an already classified error: %v", got)
	}
	if classify("op", KindProcessing, nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestErrorIs_MatchesSentinelByKind(t *testing.T) {
	err := fmt.Errorf("ctx: %w", newError(KindNotFound, "restore", errors.New("nothing")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound match")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("unexpected ErrConflict match")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain error must have no kind")
	}
}

func TestError_Message(t *testing.T) {
	e := newError(KindValidation, "archive", errors.New("reason is required"))
	if e.Error() != "archive: validation: reason is required" {
		t.Fatalf("message = %q", e.Error())
	}
	if (&Error{Kind: KindTimeout}).Error() != "timeout" {
		t.Fatalf("bare sentinel message = %q", (&Error{Kind: KindTimeout}).Error())
	}
}
