/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultType is used when an auction names no known type.
const DefaultType = "english"

// TypeSpec describes one auction type in the strategy table.
type TypeSpec struct {
	Type       string        `yaml:"type"`
	Layout     string        `yaml:"layout"` // "classic" or "capacity"
	PMTs       []string      `yaml:"pmts"`
	StreamsKey string        `yaml:"streams_key"`
	DayStart   TimeOfDay     `yaml:"day_start"`
	DayEnd     TimeOfDay     `yaml:"day_end"`    // classic only
	SlotWidth  time.Duration `yaml:"slot_width"` // classic only
	Duration   time.Duration `yaml:"duration"`   // capacity only
}

type typesFile struct {
	Default string     `yaml:"default"`
	Types   []TypeSpec `yaml:"types"`
}

// Registry maps auction types and procurement method types to strategies.
type Registry struct {
	byType   map[string]Strategy
	byPMT    map[string]Strategy
	fallback Strategy
}

// DefaultRegistry returns the built-in table: english (classic), insider and texas.
func DefaultRegistry() *Registry {
	english, insider, texas := NewClassic(), NewInsider(), NewTexas()
	return &Registry{
		byType: map[string]Strategy{
			english.Name(): english,
			insider.Name(): insider,
			texas.Name():   texas,
		},
		byPMT: map[string]Strategy{
			"dgfInsider":      insider,
			"sellout.insider": insider,
			"landLease":       texas,
		},
		fallback: english,
	}
}

// LoadRegistry reads a YAML strategy table. An empty path yields DefaultRegistry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auction types: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a registry from YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var f typesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse auction types: %w", err)
	}
	if len(f.Types) == 0 {
		return nil, fmt.Errorf("auction types: no types defined")
	}

	r := &Registry{byType: map[string]Strategy{}, byPMT: map[string]Strategy{}}
	for _, spec := range f.Types {
		s, err := spec.strategy()
		if err != nil {
			return nil, err
		}
		if _, dup := r.byType[spec.Type]; dup {
			return nil, fmt.Errorf("auction types: %q defined twice", spec.Type)
		}
		r.byType[spec.Type] = s
		for _, pmt := range spec.PMTs {
			r.byPMT[pmt] = s
		}
	}

	def := f.Default
	if def == "" {
		def = DefaultType
	}
	fallback, ok := r.byType[def]
	if !ok {
		return nil, fmt.Errorf("auction types: default %q is not defined", def)
	}
	r.fallback = fallback
	return r, nil
}

func (s TypeSpec) strategy() (Strategy, error) {
	if s.Type == "" || s.StreamsKey == "" {
		return nil, fmt.Errorf("auction types: type and streams_key are required")
	}
	switch s.Layout {
	case "classic", "":
		if s.DayEnd <= s.DayStart || s.SlotWidth <= 0 {
			return nil, fmt.Errorf("auction types: %s needs day_end after day_start and a slot_width", s.Type)
		}
		return &Classic{TypeName: s.Type, Key: s.StreamsKey, DayStart: s.DayStart, DayEnd: s.DayEnd, Width: s.SlotWidth}, nil
	case "capacity":
		if s.Duration <= 0 {
			return nil, fmt.Errorf("auction types: %s needs a duration", s.Type)
		}
		return &Capacity{TypeName: s.Type, Key: s.StreamsKey, DayStart: s.DayStart, Duration: s.Duration}, nil
	default:
		return nil, fmt.Errorf("auction types: %s has unknown layout %q", s.Type, s.Layout)
	}
}

// For picks the strategy for an auction: its auctionParameters.type when set,
// otherwise its procurementMethodType, otherwise the default.
func (r *Registry) For(auctionType, procurementMethodType string) Strategy {
	if auctionType != "" {
		if s, ok := r.byType[auctionType]; ok {
			return s
		}
		return r.fallback
	}
	if s, ok := r.byPMT[procurementMethodType]; ok {
		return s
	}
	return r.fallback
}

// ByName returns the strategy registered for an auction type.
func (r *Registry) ByName(name string) (Strategy, error) {
	s, ok := r.byType[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// StreamKeys lists the capacity settings used by registered strategies, sorted.
func (r *Registry) StreamKeys() []string {
	seen := map[string]bool{}
	var keys []string
	for _, s := range r.byType {
		if !seen[s.StreamsKey()] {
			seen[s.StreamsKey()] = true
			keys = append(keys, s.StreamsKey())
		}
	}
	sort.Strings(keys)
	return keys
}
