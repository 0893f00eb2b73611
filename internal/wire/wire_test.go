package wire

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tbourn/device-intake/internal/config"
	"github.com/tbourn/device-intake/internal/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "wire.db"))
	t.Setenv("DRAIN_INTERVAL", "1s")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestBuild_WiresServicesEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	catalog := filepath.Join(t.TempDir(), "catalog.csv")
	if err := os.WriteFile(catalog, []byte("sku,brand,model,storage,color\nAPL-IP12-128-BLK,Apple,iPhone 12,128GB,Black\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.SKUCatalogPath = catalog

	app, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if app.Catalog == nil || app.Catalog.Len() != 1 || app.Pipeline.Matcher == nil {
		t.Fatal("catalog not wired into the pipeline")
	}
	if p := app.Poller(); p.Interval != cfg.Queue.DrainInterval || p.Queue != app.Queue {
		t.Fatalf("poller misconfigured: %+v", p)
	}

	ctx := context.Background()
	res, err := app.Queue.Enqueue(ctx, []map[string]any{{"imei": "356938035643809", "brand": "apple", "model": "iPhone 12"}})
	if err != nil || res.Accepted != 1 {
		t.Fatalf("Enqueue: %+v %v", res, err)
	}
	if _, err := app.Queue.Drain(ctx, 0); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	h, err := app.Stats.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Products != 1 || h.Queue.Completed != 1 {
		t.Fatalf("unexpected health: %+v", h)
	}
	if h.Locations != 1 {
		t.Fatalf("default location not created: %+v", h)
	}
	var p domain.Product
	if err := app.DB.First(&p, "device_id = ?", "356938035643809").Error; err != nil {
		t.Fatalf("product: %v", err)
	}
}

func TestBuild_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.Driver = "oracle"
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected unknown driver error")
	}

	cfg = testConfig(t)
	cfg.SKUCatalogPath = filepath.Join(t.TempDir(), "missing.csv")
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected catalog load error")
	}
}

func TestClose_Nil(t *testing.T) {
	var a *App
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
}
