package types

import "testing"

// TestBestMatch checks verdict ranking with ties broken by order.
func TestBestMatch(t *testing.T) {
	rec := &DuplicateRecord{Matches: []DuplicateMatch{
		{Path: "a", Superset: true},
		{Path: "b", Identical: true, Superset: true},
		{Path: "c", Identical: true, Superset: true},
		{Path: "d"},
	}}
	best := rec.BestMatch()
	if best == nil || best.Path != "b" {
		t.Errorf("BestMatch = %+v, want first identical match (b)", best)
	}

	rec = &DuplicateRecord{Matches: []DuplicateMatch{
		{Path: "a"},
		{Path: "b", Superset: true},
	}}
	if best := rec.BestMatch(); best == nil || best.Path != "b" {
		t.Errorf("BestMatch = %+v, want superset match (b)", best)
	}

	if best := (&DuplicateRecord{}).BestMatch(); best != nil {
		t.Errorf("BestMatch on empty record = %+v, want nil", best)
	}
}
