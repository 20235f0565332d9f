package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RyanBlaney/braincoder/config"
)

// ErrManifest reports a manifest file that is not a JSON array of records
var ErrManifest = errors.New("invalid manifest")

func decodeNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// ReadManifest loads the records stored at path
func ReadManifest(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrManifest, path, err)
	}
	return records, nil
}

// WriteManifest stores records at path and returns the number of records the
// file holds afterwards. In merge mode records already in the file are kept
// unless a new record carries the same id, in which case it is replaced in
// place. The file is written to a temporary sibling and renamed, so readers
// only ever see a complete JSON array.
func WriteManifest(path string, records []Record, mode string) (int, error) {
	out := records

	switch mode {
	case config.WriteOverwrite, "":
	case config.WriteMerge:
		existing, err := ReadManifest(path)
		switch {
		case err == nil:
			out = mergeRecords(existing, records)
		case errors.Is(err, os.ErrNotExist):
		default:
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown write mode %q", mode)
	}

	if out == nil {
		out = []Record{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode manifest: %w", err)
	}

	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return 0, err
	}
	return len(out), nil
}

func mergeRecords(existing, fresh []Record) []Record {
	byID := make(map[string]int, len(fresh))
	for i, r := range fresh {
		byID[r.ID()] = i
	}

	merged := make([]Record, 0, len(existing)+len(fresh))
	used := make([]bool, len(fresh))
	for _, r := range existing {
		if i, ok := byID[r.ID()]; ok {
			if !used[i] {
				merged = append(merged, fresh[i])
				used[i] = true
			}
			continue
		}
		merged = append(merged, r)
	}
	for i, r := range fresh {
		if !used[i] {
			merged = append(merged, r)
		}
	}
	return merged
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
