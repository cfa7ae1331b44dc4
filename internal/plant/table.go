// Package plant provides the static plant knowledge table: per-plant soil
// moisture bands and the target-moisture adjustment function.
package plant

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plants.yaml
var embeddedTable []byte

// DefaultType is the mandatory fallback profile tag.
const DefaultType = "default"

// Profile is a per-plant soil moisture band, in percent.
type Profile struct {
	Min   float64 `yaml:"min" json:"min"`
	Ideal float64 `yaml:"ideal" json:"ideal"`
	Max   float64 `yaml:"max" json:"max"`
}

// Table is a read-only plant knowledge table. Safe for concurrent use after
// construction.
type Table struct {
	profiles map[string]Profile
}

// NewTable builds a Table from the embedded profile set.
func NewTable() *Table {
	t, err := parseTable(embeddedTable)
	if err != nil {
		// Embedded data is validated by tests; a parse failure here is a
		// build defect, not a runtime condition.
		panic("plant: embedded table invalid: " + err.Error())
	}
	return t
}

// NewTableFromFile builds a Table from the embedded profile set merged with
// an override YAML file. Override entries replace or extend embedded ones;
// the "default" profile must survive the merge.
func NewTableFromFile(path string) (*Table, error) {
	base := NewTable()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plant: read override %s: %w", path, err)
	}
	override, err := parseProfiles(data)
	if err != nil {
		return nil, fmt.Errorf("plant: parse override %s: %w", path, err)
	}
	for tag, p := range override {
		base.profiles[tag] = p
	}
	if err := validateProfiles(base.profiles); err != nil {
		return nil, fmt.Errorf("plant: override %s: %w", path, err)
	}
	return base, nil
}

func parseTable(data []byte) (*Table, error) {
	profiles, err := parseProfiles(data)
	if err != nil {
		return nil, err
	}
	if err := validateProfiles(profiles); err != nil {
		return nil, err
	}
	return &Table{profiles: profiles}, nil
}

func parseProfiles(data []byte) (map[string]Profile, error) {
	raw := map[string]Profile{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(raw))
	for tag, p := range raw {
		out[strings.ToLower(strings.TrimSpace(tag))] = p
	}
	return out, nil
}

func validateProfiles(profiles map[string]Profile) error {
	if _, ok := profiles[DefaultType]; !ok {
		return fmt.Errorf("missing mandatory %q profile", DefaultType)
	}
	for tag, p := range profiles {
		if !(p.Min <= p.Ideal && p.Ideal <= p.Max) {
			return fmt.Errorf("profile %q: must satisfy min <= ideal <= max, got %+v", tag, p)
		}
		if p.Min < 0 || p.Max > 100 {
			return fmt.Errorf("profile %q: bands must be within [0,100], got %+v", tag, p)
		}
	}
	return nil
}

// Profile returns the band for plantType, case-insensitive, falling back to
// the default profile on miss.
func (t *Table) Profile(plantType string) Profile {
	key := strings.ToLower(strings.TrimSpace(plantType))
	if p, ok := t.profiles[key]; ok {
		return p
	}
	return t.profiles[DefaultType]
}

// Known reports whether plantType has its own profile (no fallback).
func (t *Table) Known(plantType string) bool {
	_, ok := t.profiles[strings.ToLower(strings.TrimSpace(plantType))]
	return ok
}

// TargetMoisture computes the adjusted target moisture for a plant:
// ideal, scaled down at night (outside 06:00-18:00) and up/down for hot/cold
// air, clamped into the profile band.
func (t *Table) TargetMoisture(plantType string, hourOfDay int, airTempC float64) float64 {
	p := t.Profile(plantType)
	target := p.Ideal

	if hourOfDay < 6 || hourOfDay > 18 {
		target *= 0.9
	}

	switch {
	case airTempC > 30:
		target *= 1.1
	case airTempC < 20:
		target *= 0.9
	}

	if target < p.Min {
		return p.Min
	}
	if target > p.Max {
		return p.Max
	}
	return target
}

// All returns a copy of the full profile map, keyed by plant tag.
func (t *Table) All() map[string]Profile {
	out := make(map[string]Profile, len(t.profiles))
	for tag, p := range t.profiles {
		out[tag] = p
	}
	return out
}
