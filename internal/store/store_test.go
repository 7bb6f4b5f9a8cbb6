package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// Both implementations must satisfy the same contract.
func implementations(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "steward.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestDocCreateAndGet(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.GetDoc(ctx, FamilyApproval, "x"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			seq, err := s.PutDoc(ctx, FamilyApproval, "x", []byte(`{"a":1}`), 0)
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if seq != 1 {
				t.Fatalf("expected seq=1, got %d", seq)
			}

			d, err := s.GetDoc(ctx, FamilyApproval, "x")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if string(d.Value) != `{"a":1}` || d.Seq != 1 {
				t.Fatalf("unexpected doc: %+v", d)
			}
		})
	}
}

func TestDocCASConflicts(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.PutDoc(ctx, FamilyGovernorCounter, "fp", []byte("v1"), 0); err != nil {
				t.Fatalf("create failed: %v", err)
			}

			// create-again must conflict
			if _, err := s.PutDoc(ctx, FamilyGovernorCounter, "fp", []byte("v2"), 0); !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict on duplicate create, got %v", err)
			}

			// stale sequence must conflict
			if _, err := s.PutDoc(ctx, FamilyGovernorCounter, "fp", []byte("v2"), 99); !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict on stale seq, got %v", err)
			}

			// matching sequence advances
			seq, err := s.PutDoc(ctx, FamilyGovernorCounter, "fp", []byte("v2"), 1)
			if err != nil {
				t.Fatalf("update failed: %v", err)
			}
			if seq != 2 {
				t.Fatalf("expected seq=2, got %d", seq)
			}

			d, _ := s.GetDoc(ctx, FamilyGovernorCounter, "fp")
			if string(d.Value) != "v2" {
				t.Fatalf("expected v2, got %s", d.Value)
			}
		})
	}
}

func TestDocFamiliesIsolated(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.PutDoc(ctx, FamilyApproval, "k", []byte("a"), 0)
			s.PutDoc(ctx, FamilyPromotion, "k", []byte("b"), 0)

			d, err := s.GetDoc(ctx, FamilyPromotion, "k")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if string(d.Value) != "b" {
				t.Fatalf("family leak: got %s", d.Value)
			}
		})
	}
}

func TestLogAppendSequences(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i := 1; i <= 3; i++ {
				e, err := s.Append(ctx, FamilyConfidence, "fp1", []byte{byte('0' + i)})
				if err != nil {
					t.Fatalf("append %d failed: %v", i, err)
				}
				if e.Seq != uint64(i) {
					t.Fatalf("expected seq=%d, got %d", i, e.Seq)
				}
			}

			// independent key starts at 1
			e, _ := s.Append(ctx, FamilyConfidence, "fp2", []byte("x"))
			if e.Seq != 1 {
				t.Fatalf("expected fresh key seq=1, got %d", e.Seq)
			}
		})
	}
}

func TestLogLastNewestFirst(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Append(ctx, FamilyClassDef, "c", []byte("v1"))
			s.Append(ctx, FamilyClassDef, "c", []byte("v2"))
			s.Append(ctx, FamilyClassDef, "c", []byte("v3"))

			last, err := s.Last(ctx, FamilyClassDef, "c", 2)
			if err != nil {
				t.Fatalf("last failed: %v", err)
			}
			if len(last) != 2 {
				t.Fatalf("expected 2 entries, got %d", len(last))
			}
			if string(last[0].Value) != "v3" || string(last[1].Value) != "v2" {
				t.Fatalf("wrong order: %s, %s", last[0].Value, last[1].Value)
			}
		})
	}
}

func TestLogKeys(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Append(ctx, FamilyClassEvent, "b", []byte("1"))
			s.Append(ctx, FamilyClassEvent, "a", []byte("1"))
			s.Append(ctx, FamilyClassEvent, "a", []byte("2"))

			keys, err := s.Keys(ctx, FamilyClassEvent)
			if err != nil {
				t.Fatalf("keys failed: %v", err)
			}
			if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
				t.Fatalf("unexpected keys: %v", keys)
			}
		})
	}
}
