package registry

import (
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndIsDuplicate(t *testing.T) {
	r := newTestRegistry(t)

	text := "Acme launches new flagship product with a revised pricing model for enterprises"
	if err := r.Record(text, "Acme launches product", "Pricing revealed."); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := r.IsDuplicate(text)
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a duplicate record for identical text")
	}
	if rec.Title != "Acme launches product" || rec.Summary != "Pricing revealed." {
		t.Errorf("record mismatch: %+v", rec)
	}
}

func TestIsDuplicateMissesUnrelatedText(t *testing.T) {
	r := newTestRegistry(t)

	if err := r.Record("Acme launches new flagship product with revised pricing", "t", "s"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := r.IsDuplicate("Severe weather warning issued for the entire coastal region tonight")
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if rec != nil {
		t.Errorf("unrelated text matched record %+v", rec)
	}
}

func TestPruneRespectsTTL(t *testing.T) {
	r := newTestRegistry(t)

	text := "Acme launches new flagship product with a revised pricing model today"
	if err := r.Record(text, "title", "summary"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Fresh record survives.
	if n, err := r.Prune(); err != nil || n != 0 {
		t.Fatalf("Prune on fresh record = %d, %v; want 0, nil", n, err)
	}
	if rec, _ := r.IsDuplicate(text); rec == nil {
		t.Fatal("record removed by premature prune")
	}

	// Collapse the window so the record is past retention.
	r.setTTL(-time.Second)
	n, err := r.Prune()
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned record, got %d", n)
	}
	rec, err := r.IsDuplicate(text)
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if rec != nil {
		t.Errorf("pruned topic still matches: %+v", rec)
	}
}

func TestRecordUpsertsByFingerprint(t *testing.T) {
	r := newTestRegistry(t)

	text := "Central bank announces unexpected change to the benchmark interest rate"
	if err := r.Record(text, "first", "v1"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := r.Record(text, "second", "v2"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := r.IsDuplicate(text)
	if err != nil {
		t.Fatalf("IsDuplicate failed: %v", err)
	}
	if rec == nil || rec.Title != "second" || rec.Summary != "v2" {
		t.Errorf("expected latest record, got %+v", rec)
	}
}
