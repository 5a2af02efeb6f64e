// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/claimr-tools/claimr-go/errors"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads the configuration whenever the file at path changes, passing
// each valid configuration to onChange and every failure to onError. The
// returned function stops watching.
func Watch(
	path string,
	onChange func(*Config),
	onError func(error),
) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, watchError(err)
	}

	// Watch the directory, since editors often replace the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, watchError(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != filepath.Base(path) ||
					!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}

				// Truncating writes show up as an empty file first.
				if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
					continue
				}

				cfg, err := Load(path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(watchError(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = watcher.Close()
			wg.Wait()
		})
	}, nil
}

func watchError(err error) error {
	return &errors.Error{
		Message:     "could not watch configuration: " + err.Error(),
		Kind:        errors.ConfigurationInvalid,
		NestedError: err,
	}
}
