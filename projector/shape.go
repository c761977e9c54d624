// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package projector

import (
	"sort"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
)

// Payload keys of the hub's push envelope.
const (
	EnvelopeKey = "msg"
	IndexKey    = "idx"
)

// Shape identifies which payload form a record was found in
type Shape int

// Recognised payload shapes, in detection order.
const (
	ShapeUnknown Shape = iota
	ShapeEnvelope
	ShapeEnvelopeIndex
	ShapeDirect
	ShapeBare
)

func (s Shape) String() string {
	switch s {
	case ShapeEnvelope:
		return "envelope"
	case ShapeEnvelopeIndex:
		return "envelope_idx"
	case ShapeDirect:
		return "direct"
	case ShapeBare:
		return "bare"
	default:
		return "unknown"
	}
}

// Normalize extracts the record for one channel from an update payload.
//
// Shapes are tried in order:
//  1. envelope keyed by channel: {"msg": {"P1": {...}}}
//  2. envelope addressed by index: {"msg": {"idx": "P1", "type": 129, "val": 1}}
//  3. keyed directly by channel: {"P1": {...}}
//  4. bare record: {"type": 129, "val": 1}
//
// A payload carrying an envelope is never read as a bare record. When no
// shape matches, the returned error is a *errors.PayloadError wrapping
// errors.ErrMalformedPayload.
func Normalize(key string, payload map[string]any) (device.RawIORecord, Shape, error) {
	rec, shape, reason := normalize(key, payload)
	if shape == ShapeUnknown {
		return device.RawIORecord{}, ShapeUnknown, apperrors.NewPayloadError("", key, reason)
	}
	return rec, shape, nil
}

func normalize(key string, payload map[string]any) (device.RawIORecord, Shape, string) {
	if payload == nil {
		return device.RawIORecord{}, ShapeUnknown, "empty payload"
	}

	// only an object under msg makes an envelope
	msg, hasEnvelope := payload[EnvelopeKey].(map[string]any)
	if hasEnvelope {
		if rec, ok := asRecord(msg[key]); ok {
			return rec, ShapeEnvelope, ""
		}
		if idx, ok := msg[IndexKey].(string); ok && idx == key && device.LooksLikeRecord(msg) {
			return device.RecordFromMap(msg), ShapeEnvelopeIndex, ""
		}
	}

	if rec, ok := asRecord(payload[key]); ok {
		return rec, ShapeDirect, ""
	}

	if !hasEnvelope && device.LooksLikeRecord(payload) {
		return device.RecordFromMap(payload), ShapeBare, ""
	}

	if hasEnvelope {
		return device.RawIORecord{}, ShapeUnknown, "envelope does not address channel"
	}
	return device.RawIORecord{}, ShapeUnknown, "no record for channel"
}

// asRecord accepts the record representations a payload value can hold
func asRecord(v any) (device.RawIORecord, bool) {
	switch x := v.(type) {
	case map[string]any:
		if !device.LooksLikeRecord(x) {
			return device.RawIORecord{}, false
		}
		return device.RecordFromMap(x), true
	case device.RawIORecord:
		return x, true
	case *device.RawIORecord:
		if x == nil {
			return device.RawIORecord{}, false
		}
		return *x, true
	default:
		return device.RawIORecord{}, false
	}
}

// ChannelsIn lists the channel keys a payload carries records for, sorted.
// Bare payloads name no channel and yield nothing.
func ChannelsIn(payload map[string]any) []string {
	found := make(map[string]struct{})

	envelope, hasEnvelope := payload[EnvelopeKey]
	if msg, ok := envelope.(map[string]any); ok {
		if idx, ok := msg[IndexKey].(string); ok && idx != "" && device.LooksLikeRecord(msg) {
			found[idx] = struct{}{}
		}
		for k, v := range msg {
			if _, ok := asRecord(v); ok {
				found[k] = struct{}{}
			}
		}
	}

	for k, v := range payload {
		if hasEnvelope && k == EnvelopeKey {
			continue
		}
		if _, ok := asRecord(v); ok {
			found[k] = struct{}{}
		}
	}

	if len(found) == 0 {
		return nil
	}
	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
