package client

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// DefaultServerURL is the hosted relay used when no URL is configured.
const DefaultServerURL = "wss://platform-sync-websocket.onrender.com"

// Settings is the persisted identity and server address, read at connect time.
type Settings interface {
	Username() (string, bool)
	ServerURL() string
	SetUsername(name string) error
	SetServerURL(url string) error
}

type settingsDoc struct {
	ReviewerUsername string `yaml:"reviewerUsername,omitempty"`
	ServerURL        string `yaml:"serverUrl,omitempty"`
}

func (d settingsDoc) username() (string, bool) {
	name := strings.TrimSpace(d.ReviewerUsername)
	return name, name != ""
}

func (d settingsDoc) serverURL() string {
	if u := strings.TrimSpace(d.ServerURL); u != "" {
		return u
	}
	return DefaultServerURL
}

// FileSettings stores settings in a YAML file. A missing file reads as empty.
type FileSettings struct {
	path string

	mu  sync.RWMutex
	doc settingsDoc
}

func LoadFileSettings(path string) (*FileSettings, error) {
	fs := &FileSettings{path: path}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileSettings) Path() string { return fs.path }

// Reload re-reads the file.
func (fs *FileSettings) Reload() error {
	raw, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		raw, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	var doc settingsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse settings %s: %w", fs.path, err)
	}

	fs.mu.Lock()
	fs.doc = doc
	fs.mu.Unlock()
	return nil
}

func (fs *FileSettings) Username() (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.doc.username()
}

func (fs *FileSettings) ServerURL() string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.doc.serverURL()
}

func (fs *FileSettings) SetUsername(name string) error {
	return fs.update(func(d *settingsDoc) { d.ReviewerUsername = strings.TrimSpace(name) })
}

func (fs *FileSettings) SetServerURL(url string) error {
	return fs.update(func(d *settingsDoc) { d.ServerURL = strings.TrimSpace(url) })
}

func (fs *FileSettings) update(apply func(*settingsDoc)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc := fs.doc
	apply(&doc)
	if err := writeSettings(fs.path, doc); err != nil {
		return err
	}
	fs.doc = doc
	return nil
}

// writeSettings replaces the file atomically via a temp file in the same directory.
func writeSettings(path string, doc settingsDoc) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Watch reloads the file whenever it is written or replaced and calls
// onChange after each successful reload. It blocks until ctx is done.
// The parent directory is watched so atomic replacements are seen.
func (fs *FileSettings) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}

	target := filepath.Clean(fs.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := fs.Reload(); err != nil {
				log.Printf("platform sync: settings reload failed: %v", err)
				continue
			}
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("platform sync: settings watch error: %v", err)
		}
	}
}

// MemorySettings keeps settings in memory only.
type MemorySettings struct {
	mu  sync.RWMutex
	doc settingsDoc
}

func NewMemorySettings(username, serverURL string) *MemorySettings {
	return &MemorySettings{doc: settingsDoc{ReviewerUsername: username, ServerURL: serverURL}}
}

func (ms *MemorySettings) Username() (string, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.doc.username()
}

func (ms *MemorySettings) ServerURL() string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.doc.serverURL()
}

func (ms *MemorySettings) SetUsername(name string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.doc.ReviewerUsername = strings.TrimSpace(name)
	return nil
}

func (ms *MemorySettings) SetServerURL(url string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.doc.ServerURL = strings.TrimSpace(url)
	return nil
}
