// Package registry owns the durable catalog of installed plugins: the
// single writer is the lifecycle engine, readers take a consistent
// snapshot. Persistence combines a YAML live file with a write-ahead
// journal so a crash mid-mutation never leaves a partially-updated record.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-lynx/pluginhost/internal/atomicfile"
	"github.com/go-lynx/pluginhost/plugins"
	"gopkg.in/yaml.v3"
)

// Status is the installed-plugin status enum. Errored and
// Incompatible carry a machine-readable Reason; the other variants leave it
// empty.
type Status string

const (
	StatusEnabled        Status = "Enabled"
	StatusDisabled       Status = "Disabled"
	StatusErrored        Status = "Errored"
	StatusIncompatible   Status = "Incompatible"
	StatusPendingRestart Status = "PendingRestart"
)

// Record is one installed plugin's durable catalog entry.
type Record struct {
	ID                   string     `yaml:"id" json:"id"`
	Version              string     `yaml:"version" json:"version"`
	InstallPath          string     `yaml:"install_path" json:"install_path"`
	EntryPath            string     `yaml:"entry_path" json:"entry_path"`
	InstalledAt          time.Time  `yaml:"installed_at" json:"installed_at"`
	UpdatedAt            *time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
	Status               Status     `yaml:"status" json:"status"`
	Reason               string     `yaml:"reason,omitempty" json:"reason,omitempty"`
	GrantedPermissions   []string   `yaml:"granted_permissions,omitempty" json:"granted_permissions,omitempty"`
	SourceDescriptor     string     `yaml:"source_descriptor" json:"source_descriptor"`
	SignatureFingerprint string     `yaml:"signature_fingerprint" json:"signature_fingerprint"`
}

// InstallDir returns the per-plugin install directory under root.
func InstallDir(root, id string) string {
	return filepath.Join(root, "plugins", id)
}

// snapshot is the on-disk shape of the live registry file.
type snapshot struct {
	Records map[string]Record `yaml:"records"`
}

// journalEntry is one append-only WAL line: a full post-mutation record,
// flushed before the live file is rewritten.
type journalEntry struct {
	PluginID string `json:"plugin_id"`
	Deleted  bool   `json:"deleted"`
	Record   Record `json:"record"`
}

// Store is the registry's durable catalog. All mutation goes through
// Store; callers needing per-plugin serialization wrap calls in their own
// keyedmu lock (the registry itself only guards its own map/file).
type Store struct {
	mu          sync.RWMutex
	records     map[string]Record
	livePath    string
	journalPath string
	journal     *os.File
	readOnly    bool
}

// Open loads dir's live file (if present), replays any unflushed journal
// entries on top of it, and rewrites the live file so the journal can be
// truncated. After a crash the catalog reflects either the pre- or the
// post-state of every mutation, never a partial one.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	livePath := filepath.Join(dir, "registry.yaml")
	journalPath := filepath.Join(dir, "registry.journal")

	s := &Store{records: make(map[string]Record), livePath: livePath, journalPath: journalPath}

	if exists, err := atomicfile.Exists(livePath); err != nil {
		return nil, err
	} else if exists {
		data, err := atomicfile.ReadLimit(livePath, 64<<20)
		if err != nil {
			return nil, plugins.NewPluginErrorWithCode(plugins.ErrorCodeRegistryCorrupt, "", "open", err.Error(), err)
		}
		var snap snapshot
		if err := yaml.Unmarshal(data, &snap); err != nil {
			// The live file is corrupt beyond what journal replay can fix.
			// Serve reads from an empty catalog and refuse writes rather
			// than clobbering the operator's file with a fresh one.
			s.readOnly = true
			return s, nil
		}
		if snap.Records != nil {
			s.records = snap.Records
		}
	}

	if err := s.replayJournal(); err != nil {
		return nil, err
	}

	journal, err := os.OpenFile(journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.journal = journal
	return s, nil
}

// replayJournal applies every fully-flushed entry in the journal to the
// in-memory map, then rewrites the live file and truncates the journal. A
// truncated trailing line (a crash mid-append) is ignored: its mutation
// never completed, so the pre-mutation state stands.
func (s *Store) replayJournal() error {
	data, err := os.ReadFile(s.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	lines := splitLines(data)
	applied := false
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Incomplete trailing write: stop replay here, not an error.
			break
		}
		if entry.Deleted {
			delete(s.records, entry.PluginID)
		} else {
			s.records[entry.PluginID] = entry.Record
		}
		applied = true
	}

	if applied {
		if err := s.rewriteLive(); err != nil {
			return err
		}
	}
	return os.Remove(s.journalPath)
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

// rewriteLive atomically rewrites the live snapshot file from in-memory state.
func (s *Store) rewriteLive() error {
	data, err := yaml.Marshal(snapshot{Records: s.records})
	if err != nil {
		return err
	}
	return atomicfile.Write(s.livePath, data, 0o644)
}

// put appends a journal entry, flushes it, rewrites the live file, then
// truncates the journal. Write-ahead-then-apply: a crash between the two
// steps always replays cleanly on the next Open.
func (s *Store) put(id string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeRegistryCorrupt, id, "put", "registry is read-only after unrecoverable corruption", nil)
	}

	entry := journalEntry{PluginID: id}
	if rec == nil {
		entry.Deleted = true
	} else {
		entry.Record = *rec
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if _, err := s.journal.Write(line); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}

	if rec == nil {
		delete(s.records, id)
	} else {
		s.records[id] = *rec
	}

	if err := s.rewriteLive(); err != nil {
		return err
	}

	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, 0); err != nil {
		return err
	}
	return nil
}

// Put inserts or replaces the record for id.
func (s *Store) Put(id string, rec Record) error {
	return s.put(id, &rec)
}

// Delete removes the record for id, if present.
func (s *Store) Delete(id string) error {
	return s.put(id, nil)
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// List returns a snapshot copy of every record, ordered by nothing in
// particular (callers needing a stable order sort it themselves).
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// ListByStatus filters List by status.
func (s *Store) ListByStatus(status Status) []Record {
	var out []Record
	for _, rec := range s.List() {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

// ReadOnly reports whether the store refused writes after opening an
// unrecoverably corrupt live file.
func (s *Store) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// Close releases the journal file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}
