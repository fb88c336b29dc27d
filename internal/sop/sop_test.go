package sop_test

import (
	"testing"

	"luvia/internal/domain"
	"luvia/internal/sop"
)

func strptr(s string) *string { return &s }

func TestComposeConcatenationOrder(t *testing.T) {
	items, err := sop.Compose([]string{"mod-kitchen", "mod-hvac"}, []sop.CustomTask{{Text: "Wipe skirting boards", Mandatory: true}})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("len = %d, want 5", len(items))
	}
	wantTasks := []string{
		"Degrease Extractor Hood",
		"ATP Baseline (Countertops)",
		"Refrigerant Pressure Audit",
		"Antimicrobial Coil Flush",
		"Wipe skirting boards",
	}
	for i, want := range wantTasks {
		if items[i].Task != want {
			t.Fatalf("items[%d].Task = %q, want %q", i, items[i].Task, want)
		}
		if items[i].IsCompleted {
			t.Fatalf("items[%d] starts completed", i)
		}
		if items[i].ID == "" {
			t.Fatalf("items[%d] missing id", i)
		}
	}
}

func TestComposeFreshIDs(t *testing.T) {
	first, err := sop.Compose([]string{"mod-security"}, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	second, err := sop.Compose([]string{"mod-security"}, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if first[0].Task != second[0].Task || first[0].Category != second[0].Category {
		t.Fatal("re-composition changed task content")
	}
	if first[0].ID == second[0].ID {
		t.Fatal("re-composition reused an id")
	}
}

func TestComposeEmptyAndUnknown(t *testing.T) {
	items, err := sop.Compose(nil, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("empty inputs produced %d items", len(items))
	}
	if _, err := sop.Compose([]string{"mod-garage"}, nil); err == nil {
		t.Fatal("expected error for unknown module id")
	}
}

func TestProgress(t *testing.T) {
	if got := sop.Progress(nil); got != 0 {
		t.Fatalf("empty progress = %d, want 0", got)
	}
	items := []domain.SOPItem{
		{ID: "a", IsCompleted: true},
		{ID: "b"},
		{ID: "c"},
	}
	if got := sop.Progress(items); got != 33 {
		t.Fatalf("progress = %d, want 33", got)
	}
	items[1].IsCompleted = true
	if got := sop.Progress(items); got != 67 {
		t.Fatalf("progress = %d, want 67", got)
	}
}

func TestProgressMonotonicUnderCompletion(t *testing.T) {
	items := make([]domain.SOPItem, 7)
	prev := sop.Progress(items)
	for i := range items {
		items[i].IsCompleted = true
		cur := sop.Progress(items)
		if cur < prev {
			t.Fatalf("progress decreased from %d to %d", prev, cur)
		}
		prev = cur
	}
	if prev != 100 {
		t.Fatalf("final progress = %d, want 100", prev)
	}
}

func TestNextMandatoryIncomplete(t *testing.T) {
	items := []domain.SOPItem{
		{ID: "a", IsMandatory: false},
		{ID: "b", IsMandatory: true, IsCompleted: true},
		{ID: "c", IsMandatory: true},
		{ID: "d", IsMandatory: true},
	}
	next := sop.NextMandatoryIncomplete(items)
	if next == nil || next.ID != "c" {
		t.Fatalf("next = %+v, want id c", next)
	}
	items[2].IsCompleted = true
	items[3].IsCompleted = true
	if got := sop.NextMandatoryIncomplete(items); got != nil {
		t.Fatalf("next = %+v, want nil", got)
	}
}

func TestAllMandatorySatisfied(t *testing.T) {
	evidence := domain.SOPItem{ID: "e", Category: domain.CategoryTask, IsMandatory: true}
	science := domain.SOPItem{ID: "s", Category: domain.CategoryScientific, IsMandatory: true}
	items := []domain.SOPItem{evidence, science}

	if sop.AllMandatorySatisfied(items) {
		t.Fatal("satisfied with nothing done")
	}

	// Completed without evidence still fails the gate.
	items[0].IsCompleted = true
	if sop.AllMandatorySatisfied(items) {
		t.Fatal("satisfied without evidence")
	}
	if got := sop.MissingMandatory(items); got != 2 {
		t.Fatalf("missing = %d, want 2", got)
	}

	items[0].EvidenceURL = strptr("https://evidence.example/e1")
	if sop.AllMandatorySatisfied(items) {
		t.Fatal("satisfied without scientific value")
	}

	items[1].Value = strptr("14")
	items[1].IsCompleted = true
	if !sop.AllMandatorySatisfied(items) {
		t.Fatal("not satisfied with evidence and value present")
	}

	// Clearing the value un-satisfies the scientific task.
	items[1].Value = strptr("")
	if sop.AllMandatorySatisfied(items) {
		t.Fatal("satisfied with empty scientific value")
	}
}

func TestAllMandatorySatisfiedVacuousOverOptionalOnly(t *testing.T) {
	// No mandatory tasks means nothing can block the gate, even with the
	// optional work still open.
	items := []domain.SOPItem{
		{ID: "a", Category: domain.CategoryTask, IsCompleted: true},
		{ID: "b", Category: domain.CategoryTask},
	}
	if !sop.AllMandatorySatisfied(items) {
		t.Fatal("optional-only list should satisfy the gate")
	}
	if got := sop.MissingMandatory(items); got != 0 {
		t.Fatalf("missing = %d, want 0", got)
	}
}
