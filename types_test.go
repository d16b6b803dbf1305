package openmemory

import "testing"

func TestValidSector(t *testing.T) {
	for _, s := range AllSectors {
		if !ValidSector(s) {
			t.Errorf("%v should be valid", s)
		}
	}
	if ValidSector(Sector("bogus")) {
		t.Error("unknown sector should be invalid")
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.DBPath == "" || cfg.VectorDim == 0 || cfg.Mode == "" {
		t.Errorf("expected defaults to be filled in, got %+v", cfg)
	}
	if len(cfg.Sectors) != len(AllSectors) {
		t.Errorf("expected all sectors to have a config, got %d", len(cfg.Sectors))
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{VectorDim: 99, Mode: "advanced"}
	cfg.ApplyDefaults()
	if cfg.VectorDim != 99 {
		t.Errorf("expected explicit VectorDim to survive defaulting, got %d", cfg.VectorDim)
	}
	if cfg.Mode != "advanced" {
		t.Errorf("expected explicit Mode to survive defaulting, got %q", cfg.Mode)
	}
}

func TestApplyDefaultsFillsMissingSectorsOnly(t *testing.T) {
	custom := SectorConfig{RoutingWeight: 2.0, DecayHalfLifeHours: 1, MinSalienceFloor: 0.1}
	cfg := Config{Sectors: map[Sector]SectorConfig{SectorSemantic: custom}}
	cfg.ApplyDefaults()
	if cfg.Sectors[SectorSemantic] != custom {
		t.Errorf("expected explicit sector config to be preserved, got %+v", cfg.Sectors[SectorSemantic])
	}
	if len(cfg.Sectors) != len(AllSectors) {
		t.Errorf("expected missing sectors to be backfilled, got %d", len(cfg.Sectors))
	}
}

func TestClampFloat(t *testing.T) {
	if clampFloat(-1, 0, 1) != 0 {
		t.Error("expected clamp to floor")
	}
	if clampFloat(2, 0, 1) != 1 {
		t.Error("expected clamp to ceiling")
	}
	if clampFloat(0.5, 0, 1) != 0.5 {
		t.Error("expected in-range value to pass through")
	}
}
