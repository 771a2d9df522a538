package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// monthLayout formats the 7-character "YYYY-MM" month key.
const monthLayout = "2006-01"

// Source attribute names as they appear in MapServer feature payloads.
const (
	FieldObjectID          = "OBJECTID"
	FieldIssueDate         = "ISSUE_DATE"
	FieldIssuingAgency     = "ISSUING_AGENCY_NAME"
	FieldAccidentIndicator = "ACCIDENT_INDICATOR"
	FieldLocation          = "LOCATION"
	FieldViolationCode     = "VIOLATION_CODE"
	FieldViolationDesc     = "VIOLATION_PROCESS_DESC"
	FieldFineAmount        = "FINE_AMOUNT"
	FieldTotalPaid         = "TOTAL_PAID"
	FieldLatitude          = "LATITUDE"
	FieldLongitude         = "LONGITUDE"
)

// RawViolation is one feature's attribute object exactly as returned by the
// MapServer query API. Values are untyped until NormalizeViolation applies
// the field rules.
type RawViolation map[string]any

// Violation is a single moving-violation citation ready for upsert.
type Violation struct {
	ViolationID       string
	IssueDate         time.Time
	ViolationDate     time.Time
	IssuingAgencyName string
	AccidentIndicator string
	Location          string
	ViolationCode     string
	ViolationDesc     string
	FineAmount        float64
	TotalPaid         *float64
	Latitude          *float64
	Longitude         *float64
	Month             string
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindFloat
	kindID
	kindEpochMillis
)

// fieldRule couples a source attribute with the coercion applied to it.
type fieldRule struct {
	name        string
	kind        fieldKind
	required    bool
	nonNegative bool
}

// violationRules is the source-to-canonical mapping table. Normalization
// walks it so presence and type problems surface as per-field validation
// errors instead of silent zero values.
var violationRules = []fieldRule{
	{name: FieldObjectID, kind: kindID, required: true},
	{name: FieldIssueDate, kind: kindEpochMillis, required: true},
	{name: FieldIssuingAgency, kind: kindString},
	{name: FieldAccidentIndicator, kind: kindString},
	{name: FieldLocation, kind: kindString},
	{name: FieldViolationCode, kind: kindString},
	{name: FieldViolationDesc, kind: kindString},
	{name: FieldFineAmount, kind: kindFloat, required: true, nonNegative: true},
	{name: FieldTotalPaid, kind: kindFloat, nonNegative: true},
	{name: FieldLatitude, kind: kindFloat},
	{name: FieldLongitude, kind: kindFloat},
}

// coercedFields holds attribute values after rule validation, typed by kind.
type coercedFields struct {
	ints    map[string]int64
	times   map[string]time.Time
	floats  map[string]*float64
	strings map[string]string
}

// NormalizeViolation validates and coerces one raw attribute payload into a
// Violation. It is deterministic: the same raw record always yields the same
// output. Records that fail a rule return a *ValidationError and are meant
// to be quarantined by the caller.
func NormalizeViolation(raw RawViolation) (Violation, error) {
	f, err := coerceViolationFields(raw)
	if err != nil {
		return Violation{}, err
	}

	issued := f.times[FieldIssueDate]
	violationDate := Midnight(issued)
	month := violationDate.Format(monthLayout)

	return Violation{
		ViolationID:       fmt.Sprintf("%s_%d", month, f.ints[FieldObjectID]),
		IssueDate:         issued,
		ViolationDate:     violationDate,
		IssuingAgencyName: f.strings[FieldIssuingAgency],
		AccidentIndicator: f.strings[FieldAccidentIndicator],
		Location:          f.strings[FieldLocation],
		ViolationCode:     f.strings[FieldViolationCode],
		ViolationDesc:     f.strings[FieldViolationDesc],
		FineAmount:        *f.floats[FieldFineAmount],
		TotalPaid:         f.floats[FieldTotalPaid],
		Latitude:          clampCoordinate(f.floats[FieldLatitude], 90),
		Longitude:         clampCoordinate(f.floats[FieldLongitude], 180),
		Month:             month,
	}, nil
}

func coerceViolationFields(raw RawViolation) (*coercedFields, error) {
	out := &coercedFields{
		ints:    map[string]int64{},
		times:   map[string]time.Time{},
		floats:  map[string]*float64{},
		strings: map[string]string{},
	}

	for _, rule := range violationRules {
		val, ok := raw[rule.name]
		if !ok || val == nil {
			if rule.required {
				return nil, &ValidationError{Field: rule.name, Reason: "missing"}
			}
			continue
		}

		switch rule.kind {
		case kindID:
			n, err := toRecordID(val)
			if err != nil {
				return nil, &ValidationError{Field: rule.name, Reason: err.Error()}
			}
			out.ints[rule.name] = n

		case kindEpochMillis:
			t, err := toEpochMillis(val)
			if err != nil {
				return nil, &ValidationError{Field: rule.name, Reason: err.Error()}
			}
			out.times[rule.name] = t

		case kindFloat:
			fv, err := toFloat(val)
			if err != nil {
				return nil, &ValidationError{Field: rule.name, Reason: err.Error()}
			}
			if fv == nil {
				if rule.required {
					return nil, &ValidationError{Field: rule.name, Reason: "missing"}
				}
				continue
			}
			if rule.nonNegative && *fv < 0 {
				return nil, &ValidationError{Field: rule.name, Reason: "negative"}
			}
			out.floats[rule.name] = fv

		case kindString:
			out.strings[rule.name] = toString(val)
		}
	}

	return out, nil
}

// toFloat accepts JSON numbers and numeric strings. Empty strings, "NaN",
// NaN, and infinities coerce to absent (nil, nil).
func toFloat(val any) (*float64, error) {
	switch x := val.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, nil
		}
		return &x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
			return nil, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as number", x)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("unexpected type %T", val)
	}
}

func toRecordID(val any) (int64, error) {
	f, err := toFloat(val)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, fmt.Errorf("missing")
	}
	n := int64(*f)
	if float64(n) != *f || n <= 0 {
		return 0, fmt.Errorf("not a positive integer")
	}
	return n, nil
}

func toEpochMillis(val any) (time.Time, error) {
	f, err := toFloat(val)
	if err != nil {
		return time.Time{}, err
	}
	if f == nil {
		return time.Time{}, fmt.Errorf("missing")
	}
	ms := int64(*f)
	if ms <= 0 {
		return time.Time{}, fmt.Errorf("not a millisecond timestamp")
	}
	return time.UnixMilli(ms).UTC(), nil
}

func toString(val any) string {
	switch x := val.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// clampCoordinate returns nil for values outside ±limit. Coordinates are
// optional; an out-of-range point is stored as NULL without quarantining
// the citation.
func clampCoordinate(v *float64, limit float64) *float64 {
	if v == nil || math.Abs(*v) > limit {
		return nil
	}
	return v
}
