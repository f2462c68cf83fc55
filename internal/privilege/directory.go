// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

package privilege

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Poll intervals. Configured values below the minimum are clamped, not
// rejected.
const (
	DefaultPollInterval = 15 * time.Second
	MinPollInterval     = 2 * time.Second
)

// Directory is the in-memory operator-level index built from the privilege
// file. Lookups are cheap; reloads swap the whole index.
type Directory struct {
	path string

	mu     sync.RWMutex
	levels map[uint32]int
	mtime  time.Time
}

// NewDirectory builds a directory over the file and performs the initial
// load. A missing file yields an empty directory, not an error.
func NewDirectory(path string) (*Directory, error) {
	d := &Directory{path: path, levels: make(map[uint32]int)}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload rebuilds the index from the file. Malformed lines are skipped with
// a log line; later entries override earlier ones.
func (d *Directory) Reload() error {
	f, err := os.Open(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("privilege file not found, directory empty", "path", d.path)
			d.mu.Lock()
			d.levels = make(map[uint32]int)
			d.mtime = time.Time{}
			d.mu.Unlock()
			return nil
		}
		return oops.Code("PRIVILEGE_OPEN_FAILED").With("path", d.path).Wrap(err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	info, err := f.Stat()
	if err != nil {
		return oops.Code("PRIVILEGE_OPEN_FAILED").With("path", d.path).Wrap(err)
	}

	levels := make(map[uint32]int)
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		entry, err := ParseEntry(scanner.Text())
		if err != nil {
			slog.Warn("skipping malformed privilege line",
				"path", d.path,
				"line", lineNo,
				"error", err,
			)
			continue
		}
		if entry == nil {
			continue
		}
		end := entry.Start
		if entry.End != nil {
			end = *entry.End
		}
		for id := entry.Start; ; id++ {
			if entry.Level == 0 {
				delete(levels, id)
			} else {
				levels[id] = entry.Level
			}
			if id == end {
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return oops.Code("PRIVILEGE_READ_FAILED").With("path", d.path).Wrap(err)
	}

	d.mu.Lock()
	d.levels = levels
	d.mtime = info.ModTime()
	d.mu.Unlock()

	slog.Info("privilege directory loaded",
		"path", d.path,
		"operators", len(levels),
	)
	return nil
}

// LevelOf returns the operator level for an account, zero for regular
// players.
func (d *Directory) LevelOf(accountID uint32) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.levels[accountID]
}

// Count returns the number of accounts holding a nonzero level.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.levels)
}

// Snapshot returns a copy of the full index, for rebroadcast to realms.
func (d *Directory) Snapshot() map[uint32]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[uint32]int, len(d.levels))
	for id, level := range d.levels {
		out[id] = level
	}
	return out
}

// Promote appends a grant to the file and reloads. The file, not this
// process, stays the source of truth, so a hand edit and a promotion can
// never diverge.
func (d *Directory) Promote(accountID uint32, level int) error {
	if level <= 0 || level > MaxLevel {
		return oops.Code("PRIVILEGE_INVALID_LEVEL").
			With("level", level).
			Errorf("level %d outside 1..%d", level, MaxLevel)
	}

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return oops.Code("PRIVILEGE_APPEND_FAILED").With("path", d.path).Wrap(err)
	}
	_, err = fmt.Fprintf(f, "%d %d\n", accountID, level)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return oops.Code("PRIVILEGE_APPEND_FAILED").With("path", d.path).Wrap(err)
	}

	if err := d.Reload(); err != nil {
		return err
	}
	slog.Info("account promoted",
		"account_id", accountID,
		"level", level,
	)
	return nil
}

// Poll watches the file's modification time and reloads on change, calling
// onReload after each successful reload. It blocks until ctx is done.
func (d *Directory) Poll(ctx context.Context, interval time.Duration, onReload func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if interval < MinPollInterval {
		interval = MinPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := d.changed()
			if err != nil {
				slog.Warn("privilege file poll failed", "path", d.path, "error", err)
				continue
			}
			if !changed {
				continue
			}
			if err := d.Reload(); err != nil {
				slog.Error("privilege file reload failed", "path", d.path, "error", err)
				continue
			}
			if onReload != nil {
				onReload()
			}
		}
	}
}

func (d *Directory) changed() (bool, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, oops.Code("PRIVILEGE_STAT_FAILED").With("path", d.path).Wrap(err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return !info.ModTime().Equal(d.mtime), nil
}
