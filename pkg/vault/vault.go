// Package vault is the on-disk container for one identity's append-only
// event log, key registry, and integrity manifest. It is the surface the
// CLI/SDK collaborators consume: sign+append, verify, replay, sync, rekey all
// go through a Vault value.
//
// Exclusive-writer discipline per vault directory is the caller's
// responsibility (for example a file lock); fencing tokens detect stale
// writers after the fact, they do not prevent them.
package vault

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/beliefbase/beliefbase/pkg/crypto"
	"github.com/beliefbase/beliefbase/pkg/event"
	"github.com/beliefbase/beliefbase/pkg/reducer"
)

// Vault is an open vault directory with its log and registry loaded.
type Vault struct {
	Dir      string
	Config   Config
	Registry crypto.KeyRegistry
	Events   []*event.Event

	log *slog.Logger
}

// Open loads a vault from dir. The event log is loaded best-effort:
// unparsable lines are skipped and logged, never fatal. Use delta import for
// the strict, itemized path.
func Open(dir string, logger *slog.Logger) (*Vault, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}

	v := &Vault{
		Dir:      dir,
		Config:   cfg,
		Registry: crypto.NewKeyRegistry(),
		log:      logger,
	}

	if err := v.loadRegistry(); err != nil {
		return nil, err
	}
	if err := v.loadLog(); err != nil {
		return nil, err
	}
	return v, nil
}

// loadRegistry reads the key registry file. A missing file yields an empty
// registry (a not-yet-bootstrapped vault).
func (v *Vault) loadRegistry() error {
	data, err := os.ReadFile(filepath.Join(v.Dir, v.Config.RegistryFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: read key registry: %w", err)
	}
	if err := json.Unmarshal(data, &v.Registry); err != nil {
		return fmt.Errorf("vault: parse key registry: %w", err)
	}
	return nil
}

// SaveRegistry writes the key registry file.
func (v *Vault) SaveRegistry() error {
	data, err := json.MarshalIndent(v.Registry, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: encode key registry: %w", err)
	}
	path := filepath.Join(v.Dir, v.Config.RegistryFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("vault: write key registry: %w", err)
	}
	return nil
}

// loadLog reads the NDJSON event log best-effort, skipping unparsable lines.
func (v *Vault) loadLog() error {
	path := filepath.Join(v.Dir, v.Config.LogFile)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vault: open event log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		e, err := event.ParseLine(line)
		if err != nil {
			v.log.Warn("skipping unparsable event line",
				"file", v.Config.LogFile, "line", lineNo, "error", err)
			continue
		}
		v.Events = append(v.Events, e)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("vault: scan event log: %w", err)
	}
	return nil
}

// Append writes one signed event as a canonical line at the end of the log
// and to the in-memory sequence.
func (v *Vault) Append(e *event.Event) error {
	line, err := event.MarshalLine(e)
	if err != nil {
		return err
	}
	path := filepath.Join(v.Dir, v.Config.LogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("vault: open event log for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("vault: append event line: %w", err)
	}
	v.Events = append(v.Events, e)
	return nil
}

// RewriteLog replaces the log file with the given ordered event sequence.
// Used by the sync engine after a union merge; written via a temp file and
// rename so readers never observe a half-written log.
func (v *Vault) RewriteLog(events []*event.Event) error {
	path := filepath.Join(v.Dir, v.Config.LogFile)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vault: create temp log: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range events {
		line, err := event.MarshalLine(e)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("vault: flush temp log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vault: close temp log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("vault: replace event log: %w", err)
	}
	v.Events = events
	return nil
}

// Head returns the id of the actor's latest event, or nil for a fresh chain.
func (v *Vault) Head(actor string) *string {
	for i := len(v.Events) - 1; i >= 0; i-- {
		if v.Events[i].Actor == actor {
			id := v.Events[i].EventID
			return &id
		}
	}
	return nil
}

// HasEvent reports whether an event id is present in the current log.
func (v *Vault) HasEvent(eventID string) bool {
	for _, e := range v.Events {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

// Replay recomputes belief state from the full event log. State is never
// persisted; this is always a complete recomputation.
func (v *Vault) Replay() (*reducer.State, error) {
	return reducer.Reduce(v.Events, reducer.Config{
		ConflictThreshold: v.Config.ConflictThreshold,
	})
}
