// Package sku derives deterministic product codes from descriptive fields.
//
// A SKU is model-storage-color-carrier with empty parts omitted. The model
// is always kept in its full form (upper-cased, punctuation and spaces
// removed); it is never abbreviated. Codes whose model could not be
// resolved are prefixed with DegradedPrefix so operators can find them.
package sku

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DegradedPrefix marks SKUs generated without a usable model.
const DegradedPrefix = "UNK"

const sep = "-"

// colorCodes maps lower-cased colour names to fixed three-letter codes.
var colorCodes = map[string]string{
	"black":            "BLK",
	"jet black":        "JBK",
	"midnight":         "MDN",
	"phantom black":    "BLK",
	"space black":      "BLK",
	"blue":             "BLU",
	"pacific blue":     "BLU",
	"sierra blue":      "BLU",
	"white":            "WHT",
	"starlight":        "STL",
	"red":              "RED",
	"product red":      "RED",
	"(product)red":     "RED",
	"green":            "GRN",
	"alpine green":     "GRN",
	"gold":             "GLD",
	"rose gold":        "RGD",
	"silver":           "SLV",
	"gray":             "GRY",
	"grey":             "GRY",
	"space gray":       "SGY",
	"space grey":       "SGY",
	"graphite":         "GPH",
	"purple":           "PUR",
	"deep purple":      "PUR",
	"pink":             "PNK",
	"yellow":           "YLW",
	"orange":           "ORG",
	"coral":            "CRL",
	"titanium":         "TTN",
	"natural titanium": "TTN",
}

// Generate builds the SKU for the given descriptive fields. It is a pure
// function: identical inputs always produce identical output.
//
// Brand is only used when model is missing; it then takes the model's
// place behind DegradedPrefix so degraded SKUs still group by make.
func Generate(brand, model, storage, color, carrier string) string {
	m := compact(model)
	var parts []string
	if m == "" {
		parts = append(parts, DegradedPrefix, compact(brand))
	} else {
		parts = append(parts, m)
	}
	parts = append(parts, storageCode(storage), ColorCode(color), compact(carrier))

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// IsDegraded reports whether s was generated without a model.
func IsDegraded(s string) bool {
	return s == DegradedPrefix || strings.HasPrefix(s, DegradedPrefix+sep)
}

// ColorCode returns the fixed code for a colour name, or the first three
// letters upper-cased when the colour is not in the table.
func ColorCode(color string) string {
	c := strings.ToLower(strings.Join(strings.Fields(fold(color)), " "))
	if c == "" || c == "unknown" {
		return ""
	}
	if code, ok := colorCodes[c]; ok {
		return code
	}
	var b strings.Builder
	n := 0
	for _, r := range c {
		if !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if n++; n == 3 {
			break
		}
	}
	return b.String()
}

// storageCode returns the first run of digits ("512GB" → "512").
func storageCode(storage string) string {
	start := strings.IndexFunc(storage, unicode.IsDigit)
	if start < 0 {
		return ""
	}
	end := strings.IndexFunc(storage[start:], func(r rune) bool { return !unicode.IsDigit(r) })
	if end < 0 {
		return storage[start:]
	}
	return storage[start : start+end]
}

// compact upper-cases s and drops everything but letters and digits.
// Accents are folded ("Café" → "CAFE"); letters with no ASCII base, such as
// CJK model names, are kept as is. "Unknown" placeholders collapse to the
// empty string.
func compact(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "unknown") {
		return ""
	}
	var b strings.Builder
	for _, r := range fold(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// fold strips combining marks after canonical decomposition.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
