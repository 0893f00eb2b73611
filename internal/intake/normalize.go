// Package intake turns loosely shaped inbound records (inspection API
// payloads, spreadsheet rows, hand-built JSON) into one canonical Record.
//
// All alias handling lives here. Downstream packages only ever see the
// canonical shape.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/tbourn/device-intake/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrMissingDeviceID is returned by Normalize when no device identifier
// alias resolves to a non-empty value.
var ErrMissingDeviceID = errors.New("missing device identifier (imei/deviceId/serialNumber)")

// Unknown is the placeholder for descriptive fields that could not be
// resolved.
const Unknown = "Unknown"

// Record is the canonical shape produced by Normalize.
type Record struct {
	DeviceID      string          `json:"device_id"`
	DisplayName   string          `json:"display_name"`
	Brand         string          `json:"brand"`
	Model         string          `json:"model"`
	Storage       string          `json:"storage,omitempty"`
	Color         string          `json:"color,omitempty"`
	Carrier       string          `json:"carrier,omitempty"`
	LocationName  string          `json:"location_name"`
	Working       domain.TriState `json:"working"`
	BatteryHealth *float64        `json:"battery_health,omitempty"`
	DefectText    *string         `json:"defect_text,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	Quantity      int             `json:"quantity"`
}

// Alias lists, most specific first. Serial numbers are accepted for the
// device identifier only when no IMEI-like key is present.
var (
	deviceIDAliases = []string{"imei", "IMEI", "deviceImei", "device_imei", "imei1", "deviceId", "device_id", "serialNumber", "serial_number", "serial"}
	nameAliases     = []string{"displayName", "display_name", "name", "productName", "product_name", "title"}
	brandAliases    = []string{"brand", "make", "manufacturer", "oem"}
	modelAliases    = []string{"model", "modelName", "model_name", "deviceModel", "device_model"}
	storageAliases  = []string{"storage", "capacity", "memory", "storageCapacity", "storage_capacity"}
	colorAliases    = []string{"color", "colour", "deviceColor", "device_color"}
	carrierAliases  = []string{"carrier", "network", "lock", "carrierLock", "carrier_lock"}
	locationAliases = []string{"location", "locationName", "location_name", "warehouse", "bin"}
	workingAliases  = []string{"working", "isWorking", "is_working", "status", "passed", "result", "testResult", "test_result"}
	batteryAliases  = []string{"batteryHealth", "battery_health", "battery", "batteryLevel", "battery_level"}
	defectAliases   = []string{"defects", "defect", "defectText", "defect_text", "failedTests", "failed_tests"}
	notesAliases    = []string{"notes", "note", "comments", "comment", "testNotes", "test_notes"}
	quantityAliases = []string{"quantity", "qty", "count", "units"}
)

// Options controls the fallbacks applied by Normalize.
type Options struct {
	// DefaultLocation is used when no location alias resolves.
	DefaultLocation string
}

// Normalize maps raw onto the canonical Record. It never panics on
// unexpected value types; unresolvable fields degrade to Pending or
// Unknown. The only failure is a missing device identifier.
func Normalize(raw map[string]any, opts Options) (Record, error) {
	deviceID := lookup(raw, deviceIDAliases)
	if deviceID == "" {
		return Record{}, ErrMissingDeviceID
	}

	rec := Record{
		DeviceID:     deviceID,
		Brand:        normalizeBrand(lookup(raw, brandAliases)),
		Model:        lookup(raw, modelAliases),
		Storage:      lookup(raw, storageAliases),
		Color:        lookup(raw, colorAliases),
		Carrier:      lookup(raw, carrierAliases),
		LocationName: lookup(raw, locationAliases),
		Working:      TriStateOf(lookupAny(raw, workingAliases)),
		Quantity:     quantityOf(lookupAny(raw, quantityAliases)),
	}

	if b, ok := floatOf(lookupAny(raw, batteryAliases)); ok {
		rec.BatteryHealth = &b
	}
	if s := lookup(raw, defectAliases); s != "" {
		rec.DefectText = &s
	}
	if s := lookup(raw, notesAliases); s != "" {
		rec.Notes = &s
	}

	rec.DisplayName = lookup(raw, nameAliases)
	if rec.DisplayName == "" {
		rec.DisplayName = strings.TrimSpace(strings.Join(nonEmpty(rec.Brand, rec.Model), " "))
	}
	if rec.DisplayName == "" {
		rec.DisplayName = Unknown
	}
	if rec.Brand == "" {
		rec.Brand = Unknown
	}
	if rec.Model == "" {
		rec.Model = Unknown
	}
	if rec.LocationName == "" {
		rec.LocationName = strings.TrimSpace(opts.DefaultLocation)
	}
	if rec.LocationName == "" {
		rec.LocationName = Unknown
	}
	return rec, nil
}

// TriStateOf coerces a loosely typed flag. Booleans map directly; strings
// are matched case-insensitively; everything else is Pending.
func TriStateOf(v any) domain.TriState {
	switch t := v.(type) {
	case bool:
		if t {
			return domain.TriYes
		}
		return domain.TriNo
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "y", "true", "pass", "passed":
			return domain.TriYes
		case "no", "n", "false", "fail", "failed":
			return domain.TriNo
		}
	}
	return domain.TriPending
}

// lookup returns the first non-empty alias value as a trimmed string.
func lookup(raw map[string]any, aliases []string) string {
	return stringOf(lookupAny(raw, aliases))
}

// lookupAny tries every alias as an exact key first, then falls back to a
// folded comparison ("Device IMEI" matches "deviceImei"). The first
// non-empty value wins.
func lookupAny(raw map[string]any, aliases []string) any {
	for _, a := range aliases {
		if v, ok := raw[a]; ok && !empty(v) {
			return v
		}
	}
	if len(raw) == 0 {
		return nil
	}
	folded := make(map[string]any, len(raw))
	for _, k := range slices.Sorted(maps.Keys(raw)) {
		fk := foldKey(k)
		if _, seen := folded[fk]; !seen && !empty(raw[k]) {
			folded[fk] = raw[k]
		}
	}
	for _, a := range aliases {
		if v, ok := folded[foldKey(a)]; ok {
			return v
		}
	}
	return nil
}

func foldKey(k string) string {
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func empty(v any) bool {
	if v == nil {
		return true
	}
	return stringOf(v) == ""
}

// stringOf renders scalar JSON-ish values. Unsupported types fall back to
// fmt formatting rather than failing.
func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// floatOf parses numeric values, tolerating a trailing percent sign.
func floatOf(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MaxQuantity caps the quantity of a single record. Larger values are
// clamped so int conversion cannot overflow.
const MaxQuantity = 1_000_000

func quantityOf(v any) int {
	f, ok := floatOf(v)
	if !ok || f < 1 {
		return 1
	}
	if f > MaxQuantity {
		return MaxQuantity
	}
	return int(f)
}

// normalizeBrand title-cases all-lowercase brands ("apple" → "Apple") and
// leaves deliberate casing ("HTC", "OnePlus") alone.
func normalizeBrand(s string) string {
	if s == "" || strings.ToLower(s) != s {
		return s
	}
	return cases.Title(language.Und).String(s)
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
