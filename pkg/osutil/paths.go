/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package osutil provides operating-system-specific path information used
// to fill in defaults that the configuration (pkg/config) leaves unset:
// the local LRU mirror's root, and the directory holding the INI config
// file itself.
package osutil

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// HomeDir returns the path to the user's home directory.
// It returns the empty string if the value isn't known.
func HomeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}

// Username returns the current user's username, as
// reported by the relevant environment variable.
func Username() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("USERNAME")
	}
	return os.Getenv("USER")
}

var cacheDirOnce sync.Once

// CacheDir returns the default root of the local LRU mirror
// (localcache.path, when unset in configuration), creating it if needed.
func CacheDir() string {
	cacheDirOnce.Do(makeCacheDir)
	return cacheDir()
}

func cacheDir() string {
	if d := os.Getenv("TASKMEMO_CACHE_DIR"); d != "" {
		return d
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(HomeDir(), "Library", "Caches", "taskmemo")
	case "windows":
		for _, ev := range []string{"TEMP", "TMP"} {
			if v := os.Getenv(ev); v != "" {
				return filepath.Join(v, "taskmemo")
			}
		}
		panic("no Windows TEMP or TMP environment variable found")
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskmemo")
	}
	return filepath.Join(HomeDir(), ".cache", "taskmemo")
}

func makeCacheDir() {
	if err := os.MkdirAll(cacheDir(), 0700); err != nil {
		log.Fatalf("could not create cache dir %v: %v", cacheDir(), err)
	}
}

// VarDir returns the per-user directory for process-local state.
func VarDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "taskmemo")
	case "darwin":
		return filepath.Join(HomeDir(), "Library", "taskmemo")
	}
	return filepath.Join(HomeDir(), "var", "taskmemo")
}

// ConfigDir returns the per-user directory that holds taskmemo.ini:
// $TASKMEMO_CONFIG_DIR if set, else the platform's config directory.
func ConfigDir() string {
	if p := os.Getenv("TASKMEMO_CONFIG_DIR"); p != "" {
		return p
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "taskmemo")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "taskmemo")
	}
	return filepath.Join(HomeDir(), ".config", "taskmemo")
}

// UserConfigPath returns the default INI config file path.
func UserConfigPath() string {
	return filepath.Join(ConfigDir(), "taskmemo.ini")
}
