// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Record field names used by the hub protocol.
const (
	FieldType    = "type"
	FieldVal     = "val"
	FieldVerbose = "v"
)

// LooksLikeRecord reports whether a map carries at least one record field
func LooksLikeRecord(m map[string]any) bool {
	if m == nil {
		return false
	}
	for _, f := range []string{FieldType, FieldVal, FieldVerbose} {
		if _, ok := m[f]; ok {
			return true
		}
	}
	return false
}

// RecordFromMap normalises a loosely typed channel payload into a RawIORecord.
//
// Malformed numeric content never fails: an unusable val leaves HasVal false,
// unusable type flags read as zero and an unsupported v is dropped.
func RecordFromMap(m map[string]any) RawIORecord {
	var rec RawIORecord
	if m == nil {
		return rec
	}

	if raw, ok := m[FieldType]; ok {
		if flags, ok := toInt64(raw); ok && flags >= 0 && flags <= math.MaxUint32 {
			rec.Type = uint32(flags)
		}
	}

	if raw, ok := m[FieldVal]; ok {
		if val, ok := toInt64(raw); ok {
			rec.Val = val
			rec.HasVal = true
		}
	}

	if raw, ok := m[FieldVerbose]; ok {
		rec.V = verboseValue(raw)
	}

	return rec
}

// UnmarshalJSON decodes a record through RecordFromMap so every entry point
// shares the same normalisation rules
func (r *RawIORecord) UnmarshalJSON(data []byte) error {
	m, err := DecodeObject(data)
	if err != nil {
		return err
	}
	*r = RecordFromMap(m)
	return nil
}

// MarshalJSON writes the record in hub format, omitting val when absent
func (r RawIORecord) MarshalJSON() ([]byte, error) {
	out := map[string]any{FieldType: r.Type}
	if r.HasVal {
		out[FieldVal] = r.Val
	}
	if r.V != nil {
		out[FieldVerbose] = r.V
	}
	return json.Marshal(out)
}

// DecodeObject decodes a JSON object keeping numbers as json.Number
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("failed to decode object: null payload")
	}
	return m, nil
}

// toInt64 converts an integral number of any decoded representation
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case float32:
		return floatToInt64(float64(n))
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// verboseValue keeps only the representations the hub sends for v.
// Integral numbers stay int64 so they are typed as integers.
func verboseValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		return f
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case string:
		return x
	case bool:
		return x
	default:
		return nil
	}
}
