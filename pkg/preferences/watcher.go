// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package preferences

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/unit-orchestrator/pkg/constants"
)

// Watcher reloads a preferences file whenever it changes and passes every
// new configuration to OnChange. Unchanged or unparsable contents are not
// passed on.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(Preferences)
	logger   *zap.SugaredLogger

	last    Preferences
	hasLast bool
}

func NewWatcher(path string, onChange func(Preferences), logger *zap.SugaredLogger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: constants.PreferencesDebounce,
		onChange: onChange,
		logger:   logger,
	}
}

// Run delivers the current preferences, if any, and then follows changes
// until ctx is cancelled. The directory is watched instead of the file so
// that replacing the file by rename is noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.reload(ctx)

	reload := make(chan struct{}, 1)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	w.logger.Infof("Watching preferences at %s", w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}

			w.logger.Debugf("Preferences file event: %s", event.Op)

			if timer != nil {
				timer.Stop()
			}

			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.reload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warnf("Preferences watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	prefs, err := Load(ctx, w.path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			w.logger.Debugf("No preferences at %s", w.path)
		} else if ctx.Err() == nil {
			w.logger.Warnf("Ignoring preferences change: %v", err)
		}

		return
	}

	if w.hasLast && prefs.Equal(w.last) {
		return
	}

	w.last, w.hasLast = prefs, true
	w.logger.Infof("Preferences changed: desired %s", prefs.Desired)
	w.onChange(prefs)
}
