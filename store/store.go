// Package store persists learned and applied display arrangements across
// daemon restarts, keyed by the fingerprint of the connected display set
// (§6's "persisted form"). It owns the one piece of I/O the layout engine
// itself is forbidden from doing.
package store

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/fsnotify/fsnotify"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/xdg/basedir"
	"golang.org/x/xerrors"

	"github.com/linuxdeepin/layoutd/layout"
)

var logger = log.NewLogger("layoutd/store")

const configVersion = "1.0"

var (
	configDir  string
	configFile string
)

func init() {
	configDir = filepath.Join(basedir.GetUserConfigDir(), "deepin/layoutd")
	configFile = filepath.Join(configDir, "arrangements.json")
}

// MonitorMode is the mode/rotation information the layout engine never
// chooses (§4.5 point 2); the store carries it through untouched so the
// backend can restore it alongside a recalled arrangement.
type MonitorMode struct {
	Width, Height int
	RefreshRate   float64
	Rotation      uint16
}

// StoredArrangement is one fingerprint's persisted entry: the layout
// engine's output, plus a per-display mode, indexed in the order the
// outputs were listed when the entry was saved (not the fingerprint's
// sorted order).
type StoredArrangement struct {
	W, H     int
	Pos      []layout.Pair
	Modes    []MonitorMode
	Primary  int // index into Pos/Modes, -1 if unset
}

type fileFormat struct {
	Version      string
	Arrangements map[string]StoredArrangement
}

// Store is a JSON-file-backed mapping from display-set fingerprint to
// stored arrangement, safe for concurrent use by the supervisor's event
// loop and any background watch goroutine.
type Store struct {
	mu     sync.Mutex
	path   string
	data   fileFormat
	watch  *fsnotify.Watcher
	onEdit func()
}

// Fingerprint returns the stable identity of a display set: EDID (when
// available) or output name, sorted so connection order never matters.
func Fingerprint(idents []string) string {
	sorted := append([]string(nil), idents...)
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}

// Open loads (or creates) the on-disk store at the default config
// location. It is not an error for the file to not yet exist; Open
// returns an empty store in that case.
func Open() (*Store, error) {
	return OpenAt(configFile)
}

// OpenAt loads the store from an explicit path, for tests and
// alternate config roots.
func OpenAt(path string) (*Store, error) {
	s := &Store{path: path, data: fileFormat{Version: configVersion, Arrangements: map[string]StoredArrangement{}}}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, xerrors.Errorf("store: reading %s: %w", path, err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, xerrors.Errorf("store: parsing %s: %w", path, err)
	}
	if ff.Arrangements == nil {
		ff.Arrangements = map[string]StoredArrangement{}
	}
	s.data = ff
	logger.Debugf("store: loaded %d arrangement(s) from %s", len(ff.Arrangements), path)
	return s, nil
}

// Load returns the stored arrangement for fingerprint, and whether one
// was found.
func (s *Store) Load(fingerprint string) (StoredArrangement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Arrangements[fingerprint]
	return a, ok
}

// Save records arr under fingerprint and writes the store to disk.
func (s *Store) Save(fingerprint string, arr StoredArrangement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Arrangements[fingerprint] = arr
	return s.flush()
}

func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return xerrors.Errorf("store: creating config dir: %w", err)
	}
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return xerrors.Errorf("store: marshaling: %w", err)
	}
	if err := ioutil.WriteFile(s.path, data, 0644); err != nil {
		return xerrors.Errorf("store: writing %s: %w", s.path, err)
	}
	if logger.GetLogLevel() == log.LevelDebug {
		logger.Debug("store: wrote ", spew.Sdump(s.data))
	}
	return nil
}

// Watch arms a filesystem watch on the store's own file and, whenever the
// file is written or created, reloads it and invokes onChange. Writes made
// by this store's own Save are not told apart from external edits (e.g. a
// config migration tool, or a second daemon instance sharing the same
// home directory) and trigger it too. It replaces any previous watch.
// Close stops it.
func (s *Store) Watch(onChange func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch != nil {
		s.watch.Close()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Errorf("store: creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return xerrors.Errorf("store: watching %s: %w", filepath.Dir(s.path), err)
	}
	s.watch = w
	s.onEdit = onChange
	go s.watchLoop(w)
	return nil
}

func (s *Store) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				logger.Warning("store: reloading after external edit:", err)
				continue
			}
			s.mu.Lock()
			cb := s.onEdit
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warning("store: watch error:", err)
		}
	}
}

// reload re-reads the store's file from disk and replaces its in-memory
// data, so an edit made by another process (or another daemon instance
// sharing the same config directory) is picked up without a restart.
func (s *Store) reload() error {
	data, err := ioutil.ReadFile(s.path)
	if err != nil {
		return xerrors.Errorf("store: reading %s: %w", s.path, err)
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return xerrors.Errorf("store: parsing %s: %w", s.path, err)
	}
	if ff.Arrangements == nil {
		ff.Arrangements = map[string]StoredArrangement{}
	}
	s.mu.Lock()
	s.data = ff
	s.mu.Unlock()
	logger.Debugf("store: reloaded %d arrangement(s) from %s after external edit", len(ff.Arrangements), s.path)
	return nil
}

// Close releases the watch, if one is armed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch == nil {
		return nil
	}
	err := s.watch.Close()
	s.watch = nil
	return err
}
