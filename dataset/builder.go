package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/RyanBlaney/braincoder/config"
	"github.com/RyanBlaney/braincoder/eeg"
	"github.com/RyanBlaney/braincoder/logging"
	"github.com/RyanBlaney/braincoder/progress"
)

// Renderer writes the spectrogram of one channel window to path
type Renderer interface {
	Render(samples []float64, path string) error
}

// SessionReport counts what happened to the rows of one session
type SessionReport struct {
	Session string `json:"session"`
	Rows    int    `json:"rows"`
	Emitted int    `json:"emitted"`
	Short   int    `json:"short"`   // stimulus shorter than one window
	Empty   int    `json:"empty"`   // window starts past the recording
	Invalid int    `json:"invalid"` // unparseable id, start or end
	Padded  int    `json:"padded"`
	Images  int    `json:"images"`
}

// Report summarises a whole build
type Report struct {
	Sessions int               `json:"sessions"`
	Built    int               `json:"built"`
	Failures map[string]string `json:"failures,omitempty"`

	Rows    int `json:"rows"`
	Emitted int `json:"emitted"`
	Short   int `json:"short"`
	Empty   int `json:"empty"`
	Invalid int `json:"invalid"`
	Padded  int `json:"padded"`
	Images  int `json:"images"`

	Manifest      string `json:"manifest"`
	ManifestTotal int    `json:"manifest_total"`
}

// Failed is the number of sessions dropped because of an error
func (r *Report) Failed() int {
	return len(r.Failures)
}

func (r *Report) add(s *SessionReport) {
	r.Built++
	r.Rows += s.Rows
	r.Emitted += s.Emitted
	r.Short += s.Short
	r.Empty += s.Empty
	r.Invalid += s.Invalid
	r.Padded += s.Padded
	r.Images += s.Images
}

func (r *Report) fail(session string, err error) {
	if r.Failures == nil {
		r.Failures = make(map[string]string)
	}
	r.Failures[session] = err.Error()
}

// Builder turns raw session folders into spectrogram images and manifest
// records
type Builder struct {
	cfg      config.DatasetConfig
	reader   eeg.RecordingReader
	renderer Renderer
	logger   logging.Logger
}

// NewBuilder creates a builder reading recordings with reader and writing
// images with renderer
func NewBuilder(cfg config.DatasetConfig, reader eeg.RecordingReader, renderer Renderer) *Builder {
	return &Builder{
		cfg:      cfg,
		reader:   reader,
		renderer: renderer,
		logger: logging.WithFields(logging.Fields{
			"component": "dataset_builder",
		}),
	}
}

// ImagePath is where channel c of the record with the given id is written
func (b *Builder) ImagePath(id string, c int) string {
	return filepath.Join(b.cfg.SpectrogramDir, fmt.Sprintf("%s_c_%d.png", id, c))
}

// BuildSession processes one session folder under the raw root. Any error
// means none of the session's records should be kept.
func (b *Builder) BuildSession(folder, csvName string) ([]Record, *SessionReport, error) {
	dir := filepath.Join(b.cfg.RawDir, folder)
	report := &SessionReport{Session: folder}
	logger := b.logger.WithFields(logging.Fields{"session": folder})

	edfPath, err := FindEDF(dir)
	if err != nil {
		return nil, report, err
	}

	rec, err := b.reader.Read(edfPath)
	if err != nil {
		return nil, report, err
	}

	roi, err := eeg.SelectROI(rec)
	if err != nil {
		return nil, report, fmt.Errorf("%s: %w", edfPath, err)
	}

	rows, err := ReadStimulusFile(filepath.Join(dir, csvName))
	if err != nil {
		return nil, report, err
	}

	logger.Debug("Session loaded", logging.Fields{
		"recording": edfPath,
		"samples":   roi.Len(),
		"rows":      len(rows),
	})

	var records []Record
	for _, row := range rows {
		report.Rows++

		if row.Err != nil {
			report.Invalid++
			logger.Warn("Skipping invalid stimulus row", logging.Fields{"error": row.Err.Error()})
			continue
		}
		if !row.Usable() {
			report.Short++
			continue
		}

		start := row.StartSeconds()
		window := eeg.ExtractWindow(roi, start, row.WindowEnd())
		if window.Observed == 0 {
			report.Empty++
			logger.Warn("Stimulus starts past the end of the recording", logging.Fields{
				"id":    row.ID,
				"start": start,
			})
			continue
		}
		if window.Padded() {
			report.Padded++
			logger.Debug("Window padded with channel means", logging.Fields{
				"id":       row.ID,
				"observed": window.Observed,
			})
		}

		images := make([]string, len(window.Data))
		for c, samples := range window.Data {
			path := b.ImagePath(row.ID, c)
			if err := b.renderer.Render(samples, path); err != nil {
				return nil, report, err
			}
			images[c] = path
			report.Images++
		}

		records = append(records, NewRecord(row, images))
		report.Emitted++
	}

	return records, report, nil
}

// BuildAll processes every session under the raw root in name order. Failed
// sessions are logged and recorded in the report and do not stop the build.
func (b *Builder) BuildAll(ctx context.Context) ([]Record, *Report, error) {
	list, err := LoadSessionList(filepath.Join(b.cfg.RawDir, b.cfg.SessionList))
	if err != nil {
		return nil, nil, err
	}

	sessions, err := DiscoverSessions(b.cfg.RawDir, b.cfg.Exclude)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{Sessions: len(sessions)}
	bar := progress.New(b.cfg.Progress, "sessions", len(sessions))
	defer bar.Done()

	var records []Record
	seen := make(map[string]string)

	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		csvName, ok := list[session]
		if !ok {
			err := fmt.Errorf("session %s has no entry in %s", session, b.cfg.SessionList)
			b.logger.Error(err, "Skipping session", logging.Fields{"session": session})
			report.fail(session, err)
			bar.Increment()
			continue
		}

		sessionRecords, sessionReport, err := b.BuildSession(session, csvName)
		if err != nil {
			b.logger.Error(err, "Skipping session", logging.Fields{"session": session})
			report.fail(session, err)
			bar.Increment()
			continue
		}

		for _, r := range sessionRecords {
			if prev, dup := seen[r.ID()]; dup {
				b.logger.Warn("Duplicate record id, images overwritten", logging.Fields{
					"id":       r.ID(),
					"session":  session,
					"previous": prev,
				})
			}
			seen[r.ID()] = session
		}

		records = append(records, sessionRecords...)
		report.add(sessionReport)
		b.logger.Info("Session built", logging.Fields{
			"session": session,
			"records": sessionReport.Emitted,
			"short":   sessionReport.Short,
			"images":  sessionReport.Images,
		})
		bar.Increment()
	}

	return records, report, nil
}

// Build runs BuildAll and writes the manifest with the configured policy
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	records, report, err := b.BuildAll(ctx)
	if err != nil {
		return report, err
	}

	total, err := WriteManifest(b.cfg.Manifest, records, b.cfg.WriteMode)
	if err != nil {
		return report, fmt.Errorf("write manifest: %w", err)
	}
	report.Manifest = b.cfg.Manifest
	report.ManifestTotal = total

	b.logReport(report)
	return report, nil
}

func (b *Builder) logReport(r *Report) {
	b.logger.Info("Dataset build complete", logging.Fields{
		"sessions": fmt.Sprintf("%d/%d", r.Built, r.Sessions),
		"records":  humanize.Comma(int64(r.Emitted)),
		"skipped":  humanize.Comma(int64(r.Short + r.Empty + r.Invalid)),
		"images":   humanize.Comma(int64(r.Images)),
		"manifest": fmt.Sprintf("%s (%s records)", r.Manifest, humanize.Comma(int64(r.ManifestTotal))),
	})

	if r.Failed() == 0 {
		return
	}
	failed := make([]string, 0, len(r.Failures))
	for session := range r.Failures {
		failed = append(failed, session)
	}
	sort.Strings(failed)
	for _, session := range failed {
		b.logger.Warn("Session failed", logging.Fields{
			"session": session,
			"error":   r.Failures[session],
		})
	}
}
