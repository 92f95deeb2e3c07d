package registry

import (
	"testing"

	"cyclecore/pkg/domain"
)

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for empty registry")
	}
	if _, err := New([]StageDefinition{{ID: "", Order: 1}}); err == nil {
		t.Fatalf("expected error for empty stage id")
	}
	if _, err := New([]StageDefinition{{ID: "A", Order: 1}, {ID: "A", Order: 2}}); err == nil {
		t.Fatalf("expected error for duplicate stage id")
	}
	if _, err := New([]StageDefinition{{ID: "A", Order: 2}, {ID: "B", Order: 2}}); err == nil {
		t.Fatalf("expected error for non-increasing order")
	}
}

func TestDefaultOrdering(t *testing.T) {
	reg := Default()
	want := []domain.StageID{
		domain.StageStimulation,
		domain.StageOocyteRetrieval,
		domain.StageFertilization,
		domain.StageEmbryoCulture,
		domain.StageEmbryoTransfer,
		domain.StagePregnancyOutcome,
	}
	stages := reg.StagesInOrder()
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	prev := -1
	for i, stage := range stages {
		if stage.ID != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], stage.ID)
		}
		if stage.Order <= prev {
			t.Fatalf("stage %s order %d not increasing", stage.ID, stage.Order)
		}
		prev = stage.Order
	}
	if reg.First().ID != domain.StageStimulation {
		t.Fatalf("expected first stage Stimulation, got %s", reg.First().ID)
	}
	if reg.Final().ID != domain.StagePregnancyOutcome {
		t.Fatalf("expected final stage PregnancyOutcome, got %s", reg.Final().ID)
	}
}

func TestNextAndLookups(t *testing.T) {
	reg := Default()
	next, ok := reg.Next(domain.StageStimulation)
	if !ok || next.ID != domain.StageOocyteRetrieval {
		t.Fatalf("expected OocyteRetrieval after Stimulation, got %v %v", next.ID, ok)
	}
	if _, ok := reg.Next(domain.StagePregnancyOutcome); ok {
		t.Fatalf("final stage must have no successor")
	}
	if _, ok := reg.Next("Unknown"); ok {
		t.Fatalf("unknown stage must have no successor")
	}
	if _, ok := reg.DefinitionFor("Unknown"); ok {
		t.Fatalf("unknown stage must have no definition")
	}
	if _, ok := reg.OrderOf("Unknown"); ok {
		t.Fatalf("unknown stage must have no order")
	}
	def, ok := reg.DefinitionFor(domain.StageFertilization)
	if !ok {
		t.Fatalf("expected Fertilization definition")
	}
	if len(def.Required) == 0 {
		t.Fatalf("expected required fields for Fertilization")
	}
	if got := len(def.Fields()); got != len(def.Required)+len(def.Optional) {
		t.Fatalf("Fields() returned %d specs", got)
	}
}
