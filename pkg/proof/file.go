package proof

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadLedger parses a JSONL stream, one proof record per line. Blank
// lines are skipped. A malformed line fails the whole read with its line
// number.
func ReadLedger(r io.Reader) ([]*Record, error) {
	var records []*Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		rec, err := ParseRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return records, nil
}

// VerifyFile reads a JSONL ledger file and runs full-chain validation on
// its contents. I/O and parse failures are returned as errors; chain
// violations are reported in the result.
func VerifyFile(path string) (ValidationResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	records, err := ReadLedger(f)
	if err != nil {
		return ValidationResult{}, err
	}
	result := ValidateChain(records)
	result.Metadata["source_file"] = path
	return result, nil
}

// AppendRecord seals rec against the current tail of the ledger file and
// appends it as one JSONL line. The file is created if missing.
func AppendRecord(path string, rec *Record) error {
	var previous string
	if existing, err := os.Open(path); err == nil {
		records, rerr := ReadLedger(existing)
		existing.Close()
		if rerr != nil {
			return rerr
		}
		if len(records) > 0 {
			previous = records[len(records)-1].ChainHash
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("open ledger: %w", err)
	}

	if err := rec.Seal(previous); err != nil {
		return err
	}

	payload, err := rec.MarshalLine()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}
