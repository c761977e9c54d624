// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawIORecord_Flags(t *testing.T) {
	tests := []struct {
		name    string
		flags   uint32
		isFloat bool
		isOn    bool
	}{
		{"zero", 0x00, false, false},
		{"float tag", 0x02, true, false},
		{"float tag with on bit", 0x03, true, true},
		{"on only", 0x01, false, true},
		{"switch on 0x81", 0x81, false, true},
		{"switch off 0x80", 0x80, false, false},
		{"float tag with high bit", 0x82, true, false},
		{"other encoding", 0x06, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := RawIORecord{Type: tt.flags}
			assert.Equal(t, tt.isFloat, rec.IsFloat())
			assert.Equal(t, tt.isOn, rec.IsOn())
		})
	}
}

func TestDeviceDescriptor_Channels(t *testing.T) {
	dev := &DeviceDescriptor{
		TypeID:   "SL_SC_THL",
		HubID:    "hub1",
		DeviceID: "dev1",
		Channels: map[string]RawIORecord{
			"T": {Val: 225, HasVal: true},
			"H": {Val: 500, HasVal: true},
			"Z": {Val: 30, HasVal: true},
		},
	}

	assert.Equal(t, "hub1/dev1", dev.Key())
	assert.Equal(t, []string{"H", "T", "Z"}, dev.ChannelKeys())
	assert.True(t, dev.HasChannel("T"))
	assert.False(t, dev.HasChannel("P1"))

	rec, ok := dev.Channel("T")
	require.True(t, ok)
	assert.Equal(t, int64(225), rec.Val)

	var nilDev *DeviceDescriptor
	assert.False(t, nilDev.HasChannel("T"))
	assert.Nil(t, nilDev.ChannelKeys())
}

func TestRecordFromMap(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want RawIORecord
	}{
		{
			name: "integer fields",
			in:   map[string]any{"type": 2, "val": int64(1109917696)},
			want: RawIORecord{Type: 2, Val: 1109917696, HasVal: true},
		},
		{
			name: "json numbers",
			in:   map[string]any{"type": json.Number("129"), "val": json.Number("1")},
			want: RawIORecord{Type: 129, Val: 1, HasVal: true},
		},
		{
			name: "integral float64 from plain decode",
			in:   map[string]any{"type": float64(0), "val": float64(225)},
			want: RawIORecord{Val: 225, HasVal: true},
		},
		{
			name: "fractional val is not an integer",
			in:   map[string]any{"val": 22.5},
			want: RawIORecord{},
		},
		{
			name: "string val is dropped",
			in:   map[string]any{"val": "abc", "v": "cool"},
			want: RawIORecord{V: "cool"},
		},
		{
			name: "negative type flags ignored",
			in:   map[string]any{"type": -1, "val": 3},
			want: RawIORecord{Val: 3, HasVal: true},
		},
		{
			name: "fractional verbose becomes float64",
			in:   map[string]any{"val": 5, "v": json.Number("21.5")},
			want: RawIORecord{Val: 5, HasVal: true, V: 21.5},
		},
		{
			name: "integral verbose stays int64",
			in:   map[string]any{"val": 5, "v": json.Number("7")},
			want: RawIORecord{Val: 5, HasVal: true, V: int64(7)},
		},
		{
			name: "native int verbose becomes int64",
			in:   map[string]any{"val": 5, "v": 7},
			want: RawIORecord{Val: 5, HasVal: true, V: int64(7)},
		},
		{
			name: "unsupported verbose is dropped",
			in:   map[string]any{"val": 5, "v": []any{1, 2}},
			want: RawIORecord{Val: 5, HasVal: true},
		},
		{
			name: "nil map",
			in:   nil,
			want: RawIORecord{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecordFromMap(tt.in))
		})
	}
}

func TestLooksLikeRecord(t *testing.T) {
	assert.True(t, LooksLikeRecord(map[string]any{"val": 1}))
	assert.True(t, LooksLikeRecord(map[string]any{"type": 1}))
	assert.True(t, LooksLikeRecord(map[string]any{"v": "x"}))
	assert.False(t, LooksLikeRecord(map[string]any{"P1": map[string]any{"val": 1}}))
	assert.False(t, LooksLikeRecord(nil))
}

func TestRawIORecord_JSON(t *testing.T) {
	var rec RawIORecord
	require.NoError(t, json.Unmarshal([]byte(`{"type":2,"val":1109917696,"v":42}`), &rec))
	assert.Equal(t, RawIORecord{Type: 2, Val: 1109917696, HasVal: true, V: int64(42)}, rec)

	out, err := json.Marshal(RawIORecord{Type: 129})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":129}`, string(out))

	var dev DeviceDescriptor
	require.NoError(t, json.Unmarshal([]byte(`{
		"devtype": "SL_OE_3C",
		"agt": "hub1",
		"me": "2d11",
		"data": {"P1": {"type": 129, "val": 1}, "P2": {"type": 2, "val": 1109917696}}
	}`), &dev))
	assert.Equal(t, "SL_OE_3C", dev.TypeID)
	assert.Equal(t, []string{"P1", "P2"}, dev.ChannelKeys())
	assert.True(t, dev.Channels["P1"].IsOn())
	assert.True(t, dev.Channels["P2"].IsFloat())

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &rec))
}

func TestDecodeObject(t *testing.T) {
	m, err := DecodeObject([]byte(`{"val": 12345678901}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901"), m["val"])

	_, err = DecodeObject([]byte(`null`))
	assert.Error(t, err)

	_, err = DecodeObject([]byte(`{broken`))
	assert.Error(t, err)
}

func FuzzRecordFromJSON(f *testing.F) {
	f.Add([]byte(`{"type":2,"val":1109917696}`))
	f.Add([]byte(`{"val":5,"v":"cool"}`))
	f.Add([]byte(`{"val":1e400}`))
	f.Add([]byte(`{"type":-5,"val":-9223372036854775808}`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var rec RawIORecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return
		}
		out, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		var again RawIORecord
		if err := json.Unmarshal(out, &again); err != nil {
			t.Fatalf("re-decoding %s: %v", out, err)
		}
		if again.Type != rec.Type || again.HasVal != rec.HasVal || again.Val != rec.Val {
			t.Errorf("record changed after re-encoding: %+v -> %+v", rec, again)
		}
	})
}
