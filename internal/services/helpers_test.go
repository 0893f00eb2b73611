package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/device-intake/internal/domain"
	"github.com/tbourn/device-intake/internal/repo"
	"github.com/tbourn/device-intake/internal/skumatch"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.db")
	db, err := repo.OpenSQLite(path, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func newQueue(db *gorm.DB) *QueueService {
	return &QueueService{
		DB:        db,
		Pipeline:  &Pipeline{DB: db},
		BatchSize: 2,
		Workers:   2,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	n, err := repo.CountRows(context.Background(), db, model)
	if err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func phone(id string) map[string]any {
	return map[string]any{
		"imei":     id,
		"brand":    "apple",
		"model":    "iPhone 12",
		"storage":  "128GB",
		"color":    "Black",
		"location": "Shelf A",
		"working":  "yes",
		"quantity": 1,
	}
}

// failingInventory fails the inventory count step and delegates everything
// else to the repo.
type failingInventory struct {
	RepoStore
}

func (failingInventory) IncrementInventory(context.Context, *gorm.DB, string, uint, int, domain.TriState) (*domain.InventoryCount, error) {
	return nil, errors.New("inventory unavailable")
}

type fakeMatcher struct {
	res skumatch.Result
	ok  bool
	err error
}

func (m fakeMatcher) Match(context.Context, skumatch.Query) (skumatch.Result, bool, error) {
	return m.res, m.ok, m.err
}

// lostRaceInventory writes the product row itself right before the
// pipeline's insert, as a concurrent worker committing first would.
type lostRaceInventory struct {
	RepoStore
}

func (s lostRaceInventory) InsertProductIfAbsent(ctx context.Context, tx *gorm.DB, p *domain.Product) (bool, error) {
	winner := *p
	winner.SKU = "WINNER"
	if _, err := repo.InsertProductIfAbsent(ctx, tx, &winner); err != nil {
		return false, err
	}
	return s.RepoStore.InsertProductIfAbsent(ctx, tx, p)
}

// deadlines counts statements gorm ran and how many lacked a context
// deadline.
type deadlines struct {
	mu      sync.Mutex
	seen    int
	missing int
}

func (d *deadlines) counts() (seen, missing int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen, d.missing
}

func recordDeadlines(t *testing.T, db *gorm.DB) *deadlines {
	t.Helper()
	d := &deadlines{}
	fn := func(tx *gorm.DB) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.seen++
		if _, ok := tx.Statement.Context.Deadline(); !ok {
			d.missing++
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("test:deadline_query", fn); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Create().Before("gorm:create").Register("test:deadline_create", fn); err != nil {
		t.Fatalf("register create callback: %v", err)
	}
	return d
}
