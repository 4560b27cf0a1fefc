// Package runlog implements the append-only JSON log files used for archive
// retry logs, refresh manifests, reconciliation reports, and enrichment-run
// metrics. Each file is a top-level object holding an array under a fixed key
// plus a last_updated timestamp. Entries are appended, never mutated.
package runlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Log is one append-only JSON log file. Appends are serialized in-process;
// writes go through a temp file and rename so concurrent readers never see a
// partial document.
type Log struct {
	path string
	key  string

	mu sync.Mutex
}

// New creates a Log writing to path, with entries stored under arrayKey.
// The file is created on first append.
func New(path, arrayKey string) *Log {
	return &Log{path: path, key: arrayKey}
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

type document struct {
	Entries     []json.RawMessage
	LastUpdated time.Time
}

// Append marshals entry and appends it to the log's array.
func (l *Log) Append(entry any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrapf(err, "runlog: marshal entry for %s", l.key)
	}
	doc.Entries = append(doc.Entries, raw)
	doc.LastUpdated = time.Now().UTC()

	return l.store(doc)
}

// Read unmarshals all entries into out, which must be a pointer to a slice.
func (l *Log) Read(out any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc.Entries)
	if err != nil {
		return eris.Wrapf(err, "runlog: remarshal entries for %s", l.key)
	}
	return eris.Wrapf(json.Unmarshal(raw, out), "runlog: decode entries for %s", l.key)
}

// Len returns the number of entries currently in the log.
func (l *Log) Len() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, err := l.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Entries), nil
}

// load must be called with l.mu held.
func (l *Log) load() (*document, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return &document{}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: read %s", l.path)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "runlog: parse %s", l.path)
	}

	doc := &document{}
	if raw, ok := m[l.key]; ok {
		if err := json.Unmarshal(raw, &doc.Entries); err != nil {
			return nil, eris.Wrapf(err, "runlog: parse %q array in %s", l.key, l.path)
		}
	}
	if raw, ok := m["last_updated"]; ok {
		_ = json.Unmarshal(raw, &doc.LastUpdated)
	}
	return doc, nil
}

// store must be called with l.mu held.
func (l *Log) store(doc *document) error {
	entries := doc.Entries
	if entries == nil {
		entries = []json.RawMessage{}
	}
	out := map[string]any{
		l.key:          entries,
		"last_updated": doc.LastUpdated,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "runlog: marshal %s", l.path)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return eris.Wrapf(err, "runlog: create dir for %s", l.path)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "runlog: write %s", tmp)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return eris.Wrapf(err, "runlog: rename %s", tmp)
	}
	return nil
}
