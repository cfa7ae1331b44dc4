package plant

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTable_ProfileLookup(t *testing.T) {
	table := NewTable()

	tomato := table.Profile("tomato")
	if tomato.Min != 50 || tomato.Ideal != 70 || tomato.Max != 85 {
		t.Fatalf("tomato profile: got %+v", tomato)
	}

	// Case-insensitive.
	if table.Profile("ToMaTo") != tomato {
		t.Fatal("lookup should be case-insensitive")
	}
}

func TestTable_UnknownFallsBackToDefault(t *testing.T) {
	table := NewTable()

	def := table.Profile(DefaultType)
	if got := table.Profile("orchid"); got != def {
		t.Fatalf("unknown plant should use default profile, got %+v", got)
	}
	if table.Known("orchid") {
		t.Fatal("orchid should not be known")
	}
	if !table.Known("herbs") {
		t.Fatal("herbs should be known")
	}
}

func TestTable_RequiredTags(t *testing.T) {
	table := NewTable()
	for _, tag := range []string{"default", "tomato", "lettuce", "pepper", "basil", "strawberry", "cucumber", "herbs"} {
		if !table.Known(tag) {
			t.Errorf("missing required profile %q", tag)
		}
	}
}

func TestTable_TargetMoisture(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name  string
		plant string
		hour  int
		temp  float64
		want  float64
	}{
		{name: "day_mild", plant: "tomato", hour: 12, temp: 25, want: 70},
		{name: "night_penalty", plant: "tomato", hour: 22, temp: 25, want: 63},
		{name: "hot_day", plant: "tomato", hour: 12, temp: 31, want: 77},
		{name: "cold_day", plant: "tomato", hour: 12, temp: 15, want: 63},
		{name: "hot_night_compound", plant: "tomato", hour: 3, temp: 31, want: 70 * 0.9 * 1.1},
		{name: "day_boundary_6", plant: "tomato", hour: 6, temp: 25, want: 70},
		{name: "day_boundary_18", plant: "tomato", hour: 18, temp: 25, want: 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := table.TargetMoisture(tt.plant, tt.hour, tt.temp)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("TargetMoisture = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestTable_TargetMoistureClamped(t *testing.T) {
	table := NewTable()

	// Every combination must stay inside the profile band.
	for _, plant := range []string{"default", "tomato", "lettuce", "herbs"} {
		p := table.Profile(plant)
		for hour := 0; hour < 24; hour++ {
			for _, temp := range []float64{-5, 15, 25, 31, 45} {
				got := table.TargetMoisture(plant, hour, temp)
				if got < p.Min || got > p.Max {
					t.Fatalf("%s hour=%d temp=%g: target %g outside [%g,%g]",
						plant, hour, temp, got, p.Min, p.Max)
				}
			}
		}
	}
}

func TestTable_OverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	content := "orchid:\n  min: 50\n  ideal: 65\n  max: 80\ntomato:\n  min: 55\n  ideal: 72\n  max: 88\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	table, err := NewTableFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !table.Known("orchid") {
		t.Fatal("override should add orchid")
	}
	if got := table.Profile("tomato").Ideal; got != 72 {
		t.Fatalf("override should replace tomato, ideal = %g", got)
	}
	// Untouched embedded entries survive.
	if got := table.Profile("lettuce").Ideal; got != 75 {
		t.Fatalf("lettuce should be unchanged, ideal = %g", got)
	}
}

func TestTable_OverrideFileInvalidBand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("weed:\n  min: 80\n  ideal: 50\n  max: 90\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTableFromFile(path); err == nil {
		t.Fatal("expected error for min > ideal")
	}
}

func TestTable_AllReturnsCopy(t *testing.T) {
	table := NewTable()
	all := table.All()
	if len(all) < 8 {
		t.Fatalf("expected at least 8 profiles, got %d", len(all))
	}
	all["tomato"] = Profile{Min: 1, Ideal: 2, Max: 3}
	if table.Profile("tomato").Ideal == 2 {
		t.Fatal("All must return a copy")
	}
}
