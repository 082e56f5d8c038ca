package planning

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryFor(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		auctionType string
		pmt         string
		want        string
	}{
		{"", "", "english"},
		{"", "dgfInsider", "insider"},
		{"", "sellout.insider", "insider"},
		{"", "landLease", "texas"},
		{"", "sellout.english", "english"},
		{"texas", "dgfInsider", "texas"},
		{"insider", "", "insider"},
		{"unknown", "landLease", "english"},
	}
	for _, tt := range tests {
		if got := r.For(tt.auctionType, tt.pmt).Name(); got != tt.want {
			t.Errorf("For(%q, %q) = %s, want %s", tt.auctionType, tt.pmt, got, tt.want)
		}
	}

	if _, err := r.ByName("dutch"); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestParseRegistry(t *testing.T) {
	data := []byte(`
default: english
types:
  - type: english
    layout: classic
    streams_key: streams
    day_start: "10:00"
    day_end: "15:00"
    slot_width: 20m
  - type: insider
    layout: capacity
    pmts: [dgfInsider]
    streams_key: dutch_streams
    day_start: "09:30"
    duration: 8h
`)
	r, err := ParseRegistry(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	english, ok := r.For("", "").(*Classic)
	if !ok {
		t.Fatalf("default should be classic, got %T", r.For("", ""))
	}
	if english.DayStart != Clock(10, 0) || english.DayEnd != Clock(15, 0) || english.Width != 20*time.Minute {
		t.Fatalf("unexpected classic layout %+v", english)
	}
	if got := r.For("", "dgfInsider").Name(); got != "insider" {
		t.Fatalf("pmt mapping lost, got %s", got)
	}
	if len(r.StreamKeys()) != 2 {
		t.Fatalf("expected two stream keys, got %v", r.StreamKeys())
	}
}

func TestParseRegistryRejectsBadTables(t *testing.T) {
	tests := map[string]string{
		"empty":           `types: []`,
		"missing default": "default: texas\ntypes:\n  - {type: english, streams_key: streams, day_start: \"11:00\", day_end: \"16:00\", slot_width: 30m}\n",
		"inverted day":    "types:\n  - {type: english, streams_key: streams, day_start: \"16:00\", day_end: \"11:00\", slot_width: 30m}\n",
		"unknown layout":  "types:\n  - {type: english, layout: round, streams_key: streams, day_start: \"11:00\"}\n",
		"duplicate type": "types:\n  - {type: english, streams_key: streams, day_start: \"11:00\", day_end: \"16:00\", slot_width: 30m}\n" +
			"  - {type: english, streams_key: streams, day_start: \"11:00\", day_end: \"16:00\", slot_width: 30m}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRegistry([]byte(data)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
