package skumatch

import (
	"fmt"
	"os"
	"strings"

	"github.com/tbourn/device-intake/internal/intake"
)

var (
	skuCols     = []string{"sku", "SKU", "sku_code", "skuCode", "code"}
	brandCols   = []string{"brand", "make", "manufacturer"}
	modelCols   = []string{"model", "model_name", "modelName"}
	storageCols = []string{"storage", "capacity"}
	colorCols   = []string{"color", "colour"}
)

// Load reads a SKU-master file (CSV or XLSX, chosen by extension) and
// builds a Catalog from it.
func Load(path string, opts ...Option) (*Catalog, error) {
	format, err := intake.FormatFromName(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := intake.ReadSheet(f, format)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			SKU:     column(r.Fields, skuCols),
			Brand:   column(r.Fields, brandCols),
			Model:   column(r.Fields, modelCols),
			Storage: column(r.Fields, storageCols),
			Color:   column(r.Fields, colorCols),
		})
	}
	return New(entries, opts...), nil
}

func column(fields map[string]any, names []string) string {
	for _, n := range names {
		for k, v := range fields {
			if strings.EqualFold(k, n) {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
	}
	return ""
}
