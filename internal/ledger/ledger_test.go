package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/steward-sh/steward/internal/model"
)

func receipt(id, status string) model.Receipt {
	return model.Receipt{
		ExecutionID: id,
		Fingerprint: "abc123",
		Kind:        model.ReceiptKindGate,
		Status:      status,
	}
}

func TestAppendAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, id := range []string{"ex-1", "ex-2", "ex-3"} {
		if err := l.Append(receipt(id, "auto_run")); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("verify: %+v", res)
	}
	if res.Lines != 3 {
		t.Fatalf("lines = %d, want 3", res.Lines)
	}
}

func TestFirstReceiptReferencesGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	l, _ := Open(path)
	l.Append(receipt("ex-1", "ok"))
	l.Close()

	receipts, err := Tail(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if receipts[0].PrevHash != GenesisHash {
		t.Fatalf("first prev_hash = %s", receipts[0].PrevHash)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")

	l, _ := Open(path)
	l.Append(receipt("ex-1", "ok"))
	l.Append(receipt("ex-2", "ok"))
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := l2.Append(receipt("ex-3", "ok")); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	l2.Close()

	res := Verify(path)
	if !res.Valid || res.Lines != 3 {
		t.Fatalf("verify after reopen: %+v", res)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	l, _ := Open(path)
	l.Append(receipt("ex-1", "ok"))
	l.Append(receipt("ex-2", "ok"))
	l.Append(receipt("ex-3", "ok"))
	l.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(raw), `"ex-2"`, `"ex-9"`, 1)
	if tampered == string(raw) {
		t.Fatal("test did not change anything")
	}
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	res := Verify(path)
	if res.Valid {
		t.Fatal("tampered ledger verified clean")
	}
	if res.ErrorLine != 3 {
		t.Fatalf("error line = %d, want 3 (line after the edit)", res.ErrorLine)
	}
}

func TestTailReturnsLastN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	l, _ := Open(path)
	for _, id := range []string{"ex-1", "ex-2", "ex-3", "ex-4"} {
		l.Append(receipt(id, "ok"))
	}
	l.Close()

	got, err := Tail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ExecutionID != "ex-3" || got[1].ExecutionID != "ex-4" {
		t.Fatalf("tail 2: %+v", got)
	}
}

func TestTailMissingFile(t *testing.T) {
	got, err := Tail(filepath.Join(t.TempDir(), "nope.jsonl"), 5)
	if err != nil || got != nil {
		t.Fatalf("missing file: got=%v err=%v", got, err)
	}
}

func TestLatestScansBackward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.jsonl")
	l, _ := Open(path)
	l.Append(receipt("ex-1", "awaiting_approval"))
	l.Append(receipt("ex-2", "auto_run"))
	l.Append(receipt("ex-1", "approved"))
	l.Close()

	r, found, err := Latest(path, "ex-1")
	if err != nil || !found {
		t.Fatalf("latest: found=%v err=%v", found, err)
	}
	if r.Status != "approved" {
		t.Fatalf("latest status = %s, want the newest line", r.Status)
	}

	_, found, err = Latest(path, "ex-99")
	if err != nil || found {
		t.Fatalf("unknown id: found=%v err=%v", found, err)
	}
}
