// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// fileDocument is the on-disk layout of a FileStore.
type fileDocument struct {
	Version int               `json:"version"`
	Salt    string            `json:"salt,omitempty"`
	Values  map[string]string `json:"values"`
}

const fileDocumentVersion = 1

// FileStore keeps values in a single JSON document that is rewritten
// atomically on every change. With a passphrase every value is sealed with
// AES-256-GCM.
type FileStore struct {
	path       string
	passphrase string
	logger     *zap.Logger

	mu     sync.RWMutex
	values map[string]string
	salt   []byte
	sealer *sealer
	closed bool

	// writes counts local persists. A reload that read the file before a
	// local write finished is discarded.
	writes uint64
}

// NewFileStore opens (or prepares to create) the document at path.
// An empty passphrase stores values in plaintext; a sealed document then
// fails with ErrSealed.
func NewFileStore(path, passphrase string, logger *zap.Logger) (*FileStore, error) {
	store := &FileStore{
		path:       path,
		passphrase: passphrase,
		logger:     logging.OrNop(logger),
		values:     make(map[string]string),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// Path returns the document path.
func (f *FileStore) Path() string {
	return f.path
}

// load reads the document from disk into memory. Caller must not hold mu.
func (f *FileStore) load() error {
	values, salt, s, err := f.readDocument()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = values
	if salt != nil {
		f.salt = salt
		f.sealer = s
	}
	return nil
}

// readDocument parses the document, reusing the current sealer when the salt
// has not changed.
func (f *FileStore) readDocument() (map[string]string, []byte, *sealer, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read store: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, nil, fmt.Errorf("decode store %s: %w", f.path, err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}

	if doc.Salt == "" {
		return doc.Values, nil, nil, nil
	}
	if f.passphrase == "" {
		return nil, nil, nil, ErrSealed
	}

	salt, err := base64.StdEncoding.DecodeString(doc.Salt)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode store salt: %w", err)
	}

	f.mu.RLock()
	s := f.sealer
	sameSalt := s != nil && string(f.salt) == string(salt)
	f.mu.RUnlock()
	if !sameSalt {
		if s, err = newSealer(f.passphrase, salt); err != nil {
			return nil, nil, nil, err
		}
	}

	values := make(map[string]string, len(doc.Values))
	for k, v := range doc.Values {
		plain, err := s.open(k, v)
		if err != nil {
			return nil, nil, nil, err
		}
		values[k] = plain
	}
	return values, salt, s, nil
}

// persist writes the in-memory values to disk. Caller must hold mu for writing.
func (f *FileStore) persist() error {
	doc := fileDocument{
		Version: fileDocumentVersion,
		Values:  make(map[string]string, len(f.values)),
	}

	if f.passphrase != "" {
		if f.sealer == nil {
			salt, err := newSalt()
			if err != nil {
				return err
			}
			s, err := newSealer(f.passphrase, salt)
			if err != nil {
				return err
			}
			f.salt, f.sealer = salt, s
		}
		doc.Salt = base64.StdEncoding.EncodeToString(f.salt)
		for k, v := range f.values {
			sealed, err := f.sealer.seal(k, v)
			if err != nil {
				return err
			}
			doc.Values[k] = sealed
		}
	} else {
		maps.Copy(doc.Values, f.values)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	f.writes++
	if err := util.AtomicWriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return nil
}

// Get implements Store.
func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return "", false, ErrClosed
	}
	v, ok := f.values[key]
	return v, ok, nil
}

// Set implements Store.
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if cur, ok := f.values[key]; ok && cur == value {
		return nil
	}
	f.values[key] = value
	return f.persist()
}

// Remove implements Store.
func (f *FileStore) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.persist()
}

// Clear implements Store.
func (f *FileStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.values = make(map[string]string)
	return f.persist()
}

// Close implements Store.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// =============================================================================
// CROSS-PROCESS RELOAD
// =============================================================================

// Watch reloads the document whenever another process rewrites it and calls
// onChange with the keys whose values changed. It blocks until ctx is done.
//
// The parent directory is watched rather than the file because atomic writes
// replace the file with a rename.
func (f *FileStore) Watch(ctx context.Context, onChange func(changed []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(f.path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			changed, err := f.reload()
			if err != nil {
				f.logger.Warn("store reload failed", zap.String("path", f.path), zap.Error(err))
				continue
			}
			if len(changed) > 0 && onChange != nil {
				onChange(changed)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the document and returns the keys that differ from memory.
func (f *FileStore) reload() ([]string, error) {
	f.mu.RLock()
	seq := f.writes
	f.mu.RUnlock()

	values, salt, s, err := f.readDocument()
	if err != nil {
		return nil, err
	}
	return f.apply(seq, values, salt, s), nil
}

// apply replaces memory with a document read while the write count was seq.
// It does nothing when a local write happened since; that write's own file
// event triggers the next reload.
func (f *FileStore) apply(seq uint64, values map[string]string, salt []byte, s *sealer) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if f.writes != seq {
		f.logger.Debug("discarding reload older than a local write", zap.String("path", f.path))
		return nil
	}

	var changed []string
	for k, v := range f.values {
		if nv, ok := values[k]; !ok || nv != v {
			changed = append(changed, k)
		}
	}
	for k := range values {
		if _, ok := f.values[k]; !ok {
			changed = append(changed, k)
		}
	}

	f.values = values
	if salt != nil {
		f.salt, f.sealer = salt, s
	}
	return changed
}
