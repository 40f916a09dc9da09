//
//  Copyright © Manetu Inc. All rights reserved.
//

package action

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/polkit-go/polkitd/internal/logging"
	"github.com/polkit-go/polkitd/pkg/polkit/common"
)

var logger = logging.GetLogger("action")

const agent = "registry"

// snapshot is the immutable, atomically-swapped published state of a
// Registry: the full set of action descriptions keyed by id, plus the
// sorted id list for deterministic enumeration.
type snapshot struct {
	byID map[string]*Description
	ids  []string
}

// Registry parses action-description XML from an ordered list of
// directories and publishes immutable [Description] values. Lookup by id
// is O(1); enumeration yields deterministic (sorted by id) order.
//
// A Registry watches every configured directory (and the override
// directory) for changes and rebuilds its published snapshot on any
// change, emitting [Registry.Changed] once the rebuild completes. Reload
// never partially publishes state: the old snapshot remains visible to
// readers until the new one is fully built (spec §3 "Ownership",
// §8 "a reload never leaves the registry in a partial state").
type Registry struct {
	dirs        []string
	overrideDir string

	snap atomic.Pointer[snapshot]

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	changedCh chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewRegistry builds a registry from the given ordered policy directories
// and starts watching them for changes. dirs earlier in the list do not
// take precedence over later ones for action ids (unlike rule files,
// actions are merged by id across all directories; a later directory's
// action with the same id replaces an earlier one, consistent with
// directories being processed in listed order).
func NewRegistry(dirs []string, overrideDir string) (*Registry, error) {
	r := &Registry{
		dirs:        dirs,
		overrideDir: overrideDir,
		changedCh:   make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	if err := r.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf(agent, "NewRegistry", "filesystem watch unavailable, reload disabled: %+v", err)
		return r, nil
	}
	for _, d := range dirs {
		_ = w.Add(d) // a missing directory simply never fires; not fatal
	}
	if overrideDir != "" {
		_ = w.Add(overrideDir)
	}
	r.watcher = w

	go r.watchLoop()

	return r, nil
}

// Changed returns a channel that receives a value after every successful
// reload, fanned out strictly after the new snapshot has been published.
func (r *Registry) Changed() <-chan struct{} {
	return r.changedCh
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case _, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if err := r.reload(); err != nil {
				logger.Errorf(agent, "watchLoop", "reload failed, keeping previous snapshot: %+v", err)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf(agent, "watchLoop", "watch error: %+v", err)
		}
	}
}

// Close stops the directory watch. Safe to call multiple times.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		if r.watcher != nil {
			_ = r.watcher.Close()
		}
		close(r.changedCh)
	})
}

// reload rebuilds the snapshot from disk and atomically publishes it.
func (r *Registry) reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := map[string]*Description{}
	overrides := NewOverrideStore(r.overrideDir)

	for _, dir := range r.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			logger.Warnf(agent, "reload", "cannot read policy directory %s: %+v", dir, err)
			continue
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".policy" {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			full := filepath.Join(dir, name)
			if err := r.loadFile(full, overrides, byID); err != nil {
				logger.Errorf(agent, "reload", "skipping policy file %s: %+v", full, err)
			}
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.snap.Store(&snapshot{byID: byID, ids: ids})

	select {
	case r.changedCh <- struct{}{}:
	default:
	}

	return nil
}

func (r *Registry) loadFile(path string, overrides *OverrideStore, byID map[string]*Description) error {
	f, err := os.Open(path)
	if err != nil {
		return common.Wrap(err, common.ErrPolicyFileInvalid, "opening policy file")
	}
	defer f.Close()

	result, err := parsePolicyFile(f, func(msg string) {
		logger.Warnf(agent, "loadFile", "%s: %s", path, msg)
	})
	if err != nil {
		return err
	}

	for _, b := range result.actions {
		desc := &Description{
			ID:                b.id,
			Vendor:            firstNonEmpty(b.vendor, result.globalVendor),
			VendorURL:         firstNonEmpty(b.vendorURL, result.globalVendorURL),
			IconName:          firstNonEmpty(b.iconName, result.globalIconName),
			DescriptionByLang: b.descByLang,
			MessageByLang:     b.msgByLang,
			Annotations:       b.annotations,
			FactoryDefault:    b.defaults,
			CurrentDefault:    b.defaults,
			sourceFile:        path,
		}

		if override, ok, oerr := overrides.Read(b.id); oerr == nil && ok {
			desc.CurrentDefault = override
		} else if oerr != nil {
			logger.Warnf(agent, "loadFile", "ignoring invalid override for %s: %+v", b.id, oerr)
		}

		byID[b.id] = desc
	}

	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Get looks up an action by id. ok is false if no such action is registered.
func (r *Registry) Get(id string) (*Description, bool) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, false
	}
	d, ok := snap.byID[id]
	return d, ok
}

// Enumerate returns all registered actions in deterministic (sorted by
// id) order, with Description/Message resolved for lang per spec §4.2
// ("localization happens at lookup time") and §4.8 enumerate_actions(locale).
func (r *Registry) Enumerate(lang string) []*LocalizedDescription {
	snap := r.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]*LocalizedDescription, 0, len(snap.ids))
	for _, id := range snap.ids {
		out = append(out, snap.byID[id].Localize(lang))
	}
	return out
}
