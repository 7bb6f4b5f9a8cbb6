// Package ledger is the append-only receipt sink every governance
// component writes outcomes to. Receipts are JSONL with SHA-256 hash
// chaining: each line's prev_hash is the hash of the previous line, so any
// mutation of history is detectable. No update or delete operation exists.
package ledger

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steward-sh/steward/internal/model"
)

// GenesisHash is the prev_hash of the first receipt in a new ledger.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Ledger is an append-only JSONL receipt ledger.
type Ledger struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens (or creates) a ledger file for appending. An existing file is
// scanned to recover the chain tail so appends continue the chain.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("ledger: read existing ledger: %w", err)
		}
		scanner := bufio.NewScanner(f)
		var lastLine []byte
		for scanner.Scan() {
			lastLine = append(lastLine[:0], scanner.Bytes()...)
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("ledger: scan existing ledger: %w", err)
		}
		if len(lastLine) > 0 {
			prevHash = HashLine(lastLine)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("ledger: open file: %w", err)
	}

	return &Ledger{path: path, file: file, prevHash: prevHash}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Append writes one receipt line with hash chaining. CreatedAt is stamped
// if empty; PrevHash is always set here, never by callers.
func (l *Ledger) Append(r model.Receipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.CreatedAt == "" {
		r.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	r.PrevHash = l.prevHash

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("ledger: marshal receipt: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: write receipt: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// VerifyResult holds the outcome of a chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify reads a ledger file and validates the hash chain, reporting the
// first broken link if any.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	var prevLine []byte

	for scanner.Scan() {
		lineNum++
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		var r model.Receipt
		if err := json.Unmarshal(line, &r); err != nil {
			return VerifyResult{Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
		}

		if lineNum == 1 {
			if r.PrevHash != GenesisHash {
				return VerifyResult{
					Error:     fmt.Sprintf("first receipt prev_hash is %q, expected genesis hash", r.PrevHash),
					ErrorLine: 1,
				}
			}
		} else if want := HashLine(prevLine); r.PrevHash != want {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", want, r.PrevHash),
				ErrorLine: lineNum,
			}
		}

		prevLine = line
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: lineNum}
}

// Tail returns the last n receipts in file order (oldest of the n first).
// n <= 0 returns every receipt.
func Tail(path string, n int) ([]model.Receipt, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	var receipts []model.Receipt
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r model.Receipt
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("ledger: parse line %d: %w", len(receipts)+1, err)
		}
		receipts = append(receipts, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}

	if n > 0 && len(receipts) > n {
		receipts = receipts[len(receipts)-n:]
	}
	return receipts, nil
}

// Latest returns the newest receipt for an execution id, scanning backward
// through history. The ledger has no mutable pointers; a backward scan is
// the lookup.
func Latest(path, executionID string) (model.Receipt, bool, error) {
	receipts, err := Tail(path, 0)
	if err != nil {
		return model.Receipt{}, false, err
	}
	for i := len(receipts) - 1; i >= 0; i-- {
		if receipts[i].ExecutionID == executionID {
			return receipts[i], true, nil
		}
	}
	return model.Receipt{}, false, nil
}
