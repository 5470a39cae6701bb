package models

import "testing"

func TestEdgeTypeClassification(t *testing.T) {
	if !EdgeDerivedFrom.IsSupport() || !EdgeConfirmedBy.IsSupport() {
		t.Error("derived_from and confirmed_by should be support edges")
	}
	if EdgeViolatedBy.IsSupport() {
		t.Error("violated_by should not be a support edge")
	}
	if !EdgeViolatedBy.IsContradiction() {
		t.Error("violated_by should be the contradiction edge")
	}
	if EdgeDerivedFrom.IsContradiction() {
		t.Error("derived_from should not be a contradiction edge")
	}
}

func TestEdgeSign(t *testing.T) {
	support := &Edge{EdgeType: EdgeConfirmedBy}
	if support.Sign() != 1 {
		t.Errorf("support edge sign = %d, want 1", support.Sign())
	}
	contradiction := &Edge{EdgeType: EdgeViolatedBy}
	if contradiction.Sign() != -1 {
		t.Errorf("contradiction edge sign = %d, want -1", contradiction.Sign())
	}
}

func TestMemoryIsObservation(t *testing.T) {
	src := "slack"
	obs := &Memory{Source: &src}
	if !obs.IsObservation() {
		t.Error("a memory with a non-empty source should be an observation")
	}

	thought := &Memory{DerivedFrom: StringList{"m1"}}
	if thought.IsObservation() {
		t.Error("a memory without a source should not be an observation")
	}

	empty := ""
	emptySource := &Memory{Source: &empty}
	if emptySource.IsObservation() {
		t.Error("a memory with an empty-string source should not be an observation")
	}
}

func TestMemoryIsTimeBound(t *testing.T) {
	m := &Memory{}
	if m.IsTimeBound() {
		t.Error("a memory with no resolves_by should not be time-bound")
	}
}

func TestEarnedRatio(t *testing.T) {
	untested := &Memory{}
	if _, ok := untested.EarnedRatio(); ok {
		t.Error("EarnedRatio should report false when times_tested is zero")
	}

	tested := &Memory{Confirmations: 3, TimesTested: 4}
	ratio, ok := tested.EarnedRatio()
	if !ok || ratio != 0.75 {
		t.Errorf("EarnedRatio = (%v, %v), want (0.75, true)", ratio, ok)
	}
}

func TestEffectiveConfidence(t *testing.T) {
	propagated := 0.9
	m := &Memory{StartingConfidence: 0.5, PropagatedConfidence: &propagated}
	if m.EffectiveConfidence() != 0.9 {
		t.Errorf("EffectiveConfidence should prefer propagated confidence, got %v", m.EffectiveConfidence())
	}

	m2 := &Memory{StartingConfidence: 0.5, Confirmations: 1, TimesTested: 2}
	if m2.EffectiveConfidence() != 0.5 {
		t.Errorf("EffectiveConfidence should fall back to earned ratio, got %v", m2.EffectiveConfidence())
	}

	m3 := &Memory{StartingConfidence: 0.4}
	if m3.EffectiveConfidence() != 0.4 {
		t.Errorf("EffectiveConfidence should fall back to starting confidence, got %v", m3.EffectiveConfidence())
	}
}

func TestDamageLevelFor(t *testing.T) {
	core := &Memory{Centrality: 5}
	if core.DamageLevelFor() != DamageCore {
		t.Errorf("centrality 5 should be core damage, got %v", core.DamageLevelFor())
	}
	peripheral := &Memory{Centrality: 4}
	if peripheral.DamageLevelFor() != DamagePeripheral {
		t.Errorf("centrality 4 should be peripheral damage, got %v", peripheral.DamageLevelFor())
	}
}

func TestStringListRoundTrip(t *testing.T) {
	in := StringList{"a", "b", "c"}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var out StringList
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(out) != 3 || out[0] != "a" || out[2] != "c" {
		t.Errorf("round-tripped StringList = %v, want %v", out, in)
	}
}

func TestStringListScanNil(t *testing.T) {
	var out StringList
	if err := out.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if out != nil {
		t.Errorf("Scan(nil) should leave the list nil, got %v", out)
	}
}

func TestViolationListRoundTrip(t *testing.T) {
	in := ViolationList{{Condition: "price > 100", DamageLevel: DamageCore}}
	v, err := in.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}

	var out ViolationList
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if len(out) != 1 || out[0].Condition != "price > 100" || out[0].DamageLevel != DamageCore {
		t.Errorf("round-tripped ViolationList = %+v, want %+v", out, in)
	}
}
