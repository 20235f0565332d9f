package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// ErrNoRecording reports a session folder with no EDF file
var ErrNoRecording = errors.New("no EDF recording in session")

// LoadSessionList reads the mapping from session folder name to the stimulus
// CSV file name inside that folder
func LoadSessionList(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session list: %w", err)
	}

	var list map[string]string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse session list %s: %w", path, err)
	}
	return list, nil
}

// DiscoverSessions returns the session folders under rawDir in name order.
// Plain files, JSON bookkeeping entries and excluded names are skipped.
func DiscoverSessions(rawDir string, exclude []string) ([]string, error) {
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return nil, fmt.Errorf("read raw dir: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.Contains(name, ".json") || slices.Contains(exclude, name) {
			continue
		}
		sessions = append(sessions, name)
	}
	sort.Strings(sessions)
	return sessions, nil
}

// FindEDF returns the first EDF file in folder by name
func FindEDF(folder string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".edf") {
			matches = append(matches, entry.Name())
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoRecording, folder)
	}
	sort.Strings(matches)
	return filepath.Join(folder, matches[0]), nil
}
