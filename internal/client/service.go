package client

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"platform-sync/internal/codec"
	"platform-sync/internal/models"
)

// PeerUpdateFunc receives presence changes from other reviewers. value is
// the canonical path for PathChanged and the decimal line for LineChanged.
type PeerUpdateFunc func(reviewerID string, kind models.Kind, value string)

// Options tune the connection. ServerURL, when set, overrides Settings.
type Options struct {
	ServerURL            string
	Format               codec.Format
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
}

// Service ties one editor instance to the relay: settings supply identity,
// the tracker filters local changes and the manager carries them.
type Service struct {
	settings Settings
	opts     Options
	onPeer   PeerUpdateFunc

	manager  *Manager
	tracker  *Tracker
	listener ListenerID

	mu       sync.RWMutex
	username string
}

func NewService(settings Settings, opts Options, onPeer PeerUpdateFunc) *Service {
	s := &Service{
		settings: settings,
		opts:     opts,
		onPeer:   onPeer,
	}
	s.manager = NewManager(s.deliver)
	s.tracker = NewTracker(s.manager)
	s.listener = s.manager.AddChangeListener(func(c StateChange) {
		if c.To == Connected {
			s.tracker.Reset()
		}
	})
	return s
}

// Connect reads the settings and starts connecting. A missing username is
// returned as *ConfigError and no attempt is made.
func (s *Service) Connect() error {
	username, ok := s.settings.Username()
	if !ok {
		return &ConfigError{Field: "username", Reason: "is not set"}
	}
	target := s.opts.ServerURL
	if target == "" {
		target = s.settings.ServerURL()
	}

	// The identity is bound before dialing so the first inbound frames are
	// filtered against it; a rejected config restores the previous one.
	s.mu.Lock()
	previous := s.username
	s.username = username
	s.mu.Unlock()

	err := s.manager.Connect(ConnectConfig{
		URL:                  target,
		Username:             username,
		Format:               s.opts.Format,
		ReconnectInterval:    s.opts.ReconnectInterval,
		MaxReconnectAttempts: s.opts.MaxReconnectAttempts,
	})
	if err != nil {
		s.mu.Lock()
		s.username = previous
		s.mu.Unlock()
		return err
	}
	s.tracker.Reset()
	return nil
}

func (s *Service) Disconnect() {
	s.manager.Disconnect()
}

// EmitLocalChange feeds an observed editor change through the tracker.
func (s *Service) EmitLocalChange(kind models.Kind, value string) error {
	switch kind {
	case models.PathChanged:
		_, err := s.EmitPathChange(value)
		return err
	case models.LineChanged:
		line, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid line %q: %w", value, err)
		}
		_, err = s.EmitLineChange(line)
		return err
	}
	return fmt.Errorf("unknown change kind %s", kind)
}

// EmitPathChange reports whether a frame was sent.
func (s *Service) EmitPathChange(path string) (bool, error) {
	username, ok := s.identity()
	if !ok {
		return false, nil
	}
	return s.tracker.PathChanged(username, path)
}

func (s *Service) EmitLineChange(line int) (bool, error) {
	username, ok := s.identity()
	if !ok {
		return false, nil
	}
	return s.tracker.LineChanged(username, line)
}

func (s *Service) Manager() *Manager { return s.manager }

func (s *Service) State() State { return s.manager.State() }

func (s *Service) IsConnected() bool { return s.manager.IsConnected() }

// Username is the identity bound at the last Connect.
func (s *Service) Username() string {
	name, _ := s.identity()
	return name
}

// Close disconnects and releases the manager. The service is not reusable.
func (s *Service) Close() {
	s.manager.RemoveChangeListener(s.listener)
	s.manager.Close()
}

func (s *Service) identity() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.username != ""
}

func (s *Service) deliver(ev models.PresenceEvent) {
	if self, ok := s.identity(); ok && ev.ReviewerID == self {
		return
	}
	if s.onPeer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("platform sync: peer update handler panicked: %v", r)
		}
	}()
	s.onPeer(ev.ReviewerID, ev.Kind, ev.Value())
}
