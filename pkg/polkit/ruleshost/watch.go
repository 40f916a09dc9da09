//
//  Copyright © Manetu Inc. All rights reserved.
//

package ruleshost

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watch starts a filesystem watch over the Host's configured rule
// directories, reloading on any change and fanning out on the returned
// channel strictly after the reload completes, per spec §4.3 "Reload
// atomicity" and §5 "Changed is emitted strictly after all new rule files
// have loaded."
//
// The returned stop function stops the watch; it is safe to call more
// than once.
func (h *Host) Watch() (changed <-chan struct{}, stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, func() {}, err
	}
	for _, d := range h.dir {
		_ = w.Add(d) // a directory that doesn't exist yet simply never fires
	}

	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				if err := h.Reload(); err != nil {
					logger.Errorf(agent, "Watch", "reload failed, keeping previous rule set: %+v", err)
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf(agent, "Watch", "watch error: %+v", err)
			}
		}
	}()

	stopFn := func() {
		once.Do(func() {
			close(done)
			_ = w.Close()
		})
	}

	return ch, stopFn, nil
}
