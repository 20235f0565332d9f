// Package dataset builds the spectrogram dataset from raw EEG sessions and
// serves it back to the trainer in batches.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/RyanBlaney/braincoder/eeg"
)

// ErrStimulusTable reports a stimulus CSV without the columns rows are keyed on
var ErrStimulusTable = errors.New("invalid stimulus table")

// requiredColumns must appear in every stimulus CSV header
var requiredColumns = []string{"id", "start", "end"}

// Row is one stimulus presentation. Start is in milliseconds and End in
// seconds, as recorded by the presentation software.
type Row struct {
	ID     string
	Start  float64
	End    float64
	Fields map[string]any // every CSV column, numeric cells as numbers

	// Err is set when the row's id, start or end cell cannot be used
	Err error
}

// StartSeconds converts Start to seconds rounded to the millisecond
func (r Row) StartSeconds() float64 {
	return math.Round(r.Start) / 1000
}

// WindowEnd is the end of the fixed-length window starting at StartSeconds
func (r Row) WindowEnd() float64 {
	return r.StartSeconds() + eeg.IntervalSeconds
}

// Usable reports whether the stimulus lasted at least one full window
func (r Row) Usable() bool {
	return r.Err == nil && r.WindowEnd() <= r.End
}

// ReadStimulusFile parses the stimulus CSV at path
func ReadStimulusFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := ReadStimulus(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadStimulus parses a stimulus CSV with a header row. Rows whose id, start
// or end cannot be parsed are returned with Err set rather than failing the
// whole table.
func ReadStimulus(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrStimulusTable)
		}
		return nil, fmt.Errorf("%w: %w", ErrStimulusTable, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrStimulusTable, strings.Join(missing, ", "))
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrStimulusTable, line, err)
		}

		// short rows leave their trailing cells null
		cell := func(i int) string {
			if i < len(record) {
				return record[i]
			}
			return ""
		}

		row := Row{Fields: make(map[string]any, len(header))}
		for i, name := range header {
			if i < len(record) {
				row.Fields[name] = parseCell(record[i])
			} else {
				row.Fields[name] = nil
			}
		}

		// ids name image files, so they keep their text form
		row.ID = strings.TrimSpace(cell(index["id"]))
		row.Fields["id"] = row.ID
		row.Start, row.Err = parseTime(cell(index["start"]), "start")
		if row.Err == nil {
			row.End, row.Err = parseTime(cell(index["end"]), "end")
		}
		if row.Err == nil {
			row.Err = validateID(row.ID)
		}
		if row.Err != nil {
			row.Err = fmt.Errorf("line %d: %w", line, row.Err)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// parseCell keeps integers and finite floats as numbers, empty cells as
// null, and everything else as text
func parseCell(cell string) any {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return cell
}

func parseTime(cell, column string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s %q", column, cell)
	}
	return v, nil
}

// validateID rejects ids that cannot name an image file
func validateID(id string) error {
	if id == "" {
		return errors.New("empty id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("id %q cannot be used in a file name", id)
	}
	return nil
}
