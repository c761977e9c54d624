// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package transport receives LifeSmart hub events over MQTT.
//
// The hub (or a relay in front of it) publishes one JSON message per event
// on a per-hub topic such as "lifesmart/<hub>/events". Two message forms are
// understood:
//
//	// snapshot: full device state
//	{"agt":"hub1","me":"2d11","devtype":"SL_OE_3C","name":"Plug","data":{"P1":{"type":129,"val":1}}}
//
//	// update: single channel push in the hub's native envelope
//	{"type":"io","msg":{"agt":"hub1","me":"2d11","devtype":"SL_OE_3C","idx":"P1","type":128,"val":0}}
//
// Updates keyed directly by channel ({"me":"2d11","P1":{...}}) are accepted
// as well. Update payloads are handed on untouched; shape normalisation is
// the projector's job.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/device"
	apperrors "github.com/MapleEve/lifesmart-for-homeassistant-sub001/pkg/errors"
)

// Message metadata keys.
const (
	keyHub     = "agt"
	keyDevice  = "me"
	keyType    = "devtype"
	keyName    = "name"
	keyData    = "data"
	keyMessage = "msg"
	keyIndex   = "idx"
)

// Kind distinguishes full snapshots from partial updates
type Kind string

// Event kinds.
const (
	KindSnapshot Kind = "snapshot"
	KindUpdate   Kind = "update"
)

// Event is one decoded hub message
type Event struct {
	Kind       Kind
	HubID      string
	DeviceID   string
	TypeID     string                   // may be empty on updates
	Channel    string                   // set when an update addresses a single channel by idx
	Device     *device.DeviceDescriptor // snapshots only
	Payload    map[string]any           // updates only
	ReceivedAt time.Time
}

// HubFromTopic extracts the hub id from a "<prefix>/<hub>/..." topic
func HubFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}

// DecodeEvent decodes one hub message received on topic
func DecodeEvent(topic string, data []byte, receivedAt time.Time) (Event, error) {
	obj, err := device.DecodeObject(data)
	if err != nil {
		return Event{}, apperrors.NewTransportError("decode", topic, fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err))
	}

	ev := Event{ReceivedAt: receivedAt}
	meta := obj

	switch {
	case isObject(obj[keyData]):
		ev.Kind = KindSnapshot
	case isObject(obj[keyMessage]):
		ev.Kind = KindUpdate
		msg := obj[keyMessage].(map[string]any)
		meta = msg
		ev.Channel = stringField(msg, keyIndex)
	default:
		ev.Kind = KindUpdate
	}

	ev.HubID = firstNonEmpty(stringField(meta, keyHub), stringField(obj, keyHub), HubFromTopic(topic))
	ev.DeviceID = firstNonEmpty(stringField(meta, keyDevice), stringField(obj, keyDevice))
	ev.TypeID = firstNonEmpty(stringField(meta, keyType), stringField(obj, keyType))

	if ev.DeviceID == "" {
		return Event{}, apperrors.NewTransportError("decode", topic, errors.New("message carries no device id"))
	}

	if ev.Kind == KindSnapshot {
		if ev.TypeID == "" {
			return Event{}, apperrors.NewTransportError("decode", topic, errors.New("snapshot carries no device type"))
		}
		ev.Device = &device.DeviceDescriptor{
			TypeID:   ev.TypeID,
			HubID:    ev.HubID,
			DeviceID: ev.DeviceID,
			Name:     stringField(obj, keyName),
			Channels: channelsFrom(obj[keyData].(map[string]any)),
		}
		return ev, nil
	}

	ev.Payload = obj
	return ev, nil
}

func channelsFrom(data map[string]any) map[string]device.RawIORecord {
	out := make(map[string]device.RawIORecord, len(data))
	for key, v := range data {
		m, ok := v.(map[string]any)
		if !ok || !device.LooksLikeRecord(m) {
			continue
		}
		out[key] = device.RecordFromMap(m)
	}
	return out
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
