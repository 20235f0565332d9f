package dataset

import (
	"encoding/json"
	"fmt"
	"maps"
)

// spectrogramKey is the manifest field listing a record's image paths
const spectrogramKey = "spectrogram"

// Record is a stimulus row annotated with one spectrogram path per ROI
// channel, in canonical channel order
type Record struct {
	Fields      map[string]any
	Spectrogram []string
}

// NewRecord copies the row's fields into a record
func NewRecord(row Row, images []string) Record {
	fields := make(map[string]any, len(row.Fields))
	maps.Copy(fields, row.Fields)
	return Record{Fields: fields, Spectrogram: images}
}

// ID returns the record id as text
func (r Record) ID() string {
	v, ok := r.Fields["id"]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Caption returns the caption column, if any
func (r Record) Caption() string {
	if s, ok := r.Fields["caption"].(string); ok {
		return s
	}
	return ""
}

// MarshalJSON flattens the CSV fields and the spectrogram list into one object
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	maps.Copy(out, r.Fields)
	images := r.Spectrogram
	if images == nil {
		images = []string{}
	}
	out[spectrogramKey] = images
	return json.Marshal(out)
}

// UnmarshalJSON splits a manifest object back into fields and image paths.
// Numbers decode as json.Number so ids round-trip unchanged.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.Fields = make(map[string]any, len(raw))
	r.Spectrogram = nil
	for key, msg := range raw {
		if key == spectrogramKey {
			if err := json.Unmarshal(msg, &r.Spectrogram); err != nil {
				return fmt.Errorf("field %s: %w", spectrogramKey, err)
			}
			continue
		}
		var v any
		if err := decodeNumber(msg, &v); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		r.Fields[key] = v
	}
	return nil
}
