package models

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// PathSeparator is the canonical separator used for paths on the wire.
// Peers on different operating systems exchange paths in this form and
// convert back with LocalPath.
const PathSeparator = "::"

// Kind identifies what a PresenceEvent reports.
type Kind int

const (
	KindUnknown Kind = iota
	PathChanged
	LineChanged
)

func (k Kind) String() string {
	switch k {
	case PathChanged:
		return "path"
	case LineChanged:
		return "line"
	default:
		return "unknown"
	}
}

// PresenceEvent is the unit exchanged between editors through the relay.
// Exactly one of Path or Line is meaningful, selected by Kind.
type PresenceEvent struct {
	ReviewerID string
	Kind       Kind
	Path       string
	Line       int
	Timestamp  time.Time
}

// NewPathEvent builds a PathChanged event stamped with the current time.
func NewPathEvent(reviewerID, path string) PresenceEvent {
	return PresenceEvent{
		ReviewerID: reviewerID,
		Kind:       PathChanged,
		Path:       path,
		Timestamp:  time.Now(),
	}
}

// NewLineEvent builds a LineChanged event stamped with the current time.
func NewLineEvent(reviewerID string, line int) PresenceEvent {
	return PresenceEvent{
		ReviewerID: reviewerID,
		Kind:       LineChanged,
		Line:       line,
		Timestamp:  time.Now(),
	}
}

// Validate reports whether the event carries an identity and exactly the
// value its kind requires.
func (e PresenceEvent) Validate() error {
	if strings.TrimSpace(e.ReviewerID) == "" {
		return fmt.Errorf("missing reviewer id")
	}
	switch e.Kind {
	case PathChanged:
		if e.Path == "" {
			return fmt.Errorf("path event without path")
		}
		if e.Line != 0 {
			return fmt.Errorf("path event carries a line value")
		}
	case LineChanged:
		if e.Line < 1 {
			return fmt.Errorf("line must be >= 1, got %d", e.Line)
		}
		if e.Path != "" {
			return fmt.Errorf("line event carries a path value")
		}
	default:
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}
	return nil
}

// Value returns the event payload as a display string.
func (e PresenceEvent) Value() string {
	if e.Kind == LineChanged {
		return fmt.Sprintf("%d", e.Line)
	}
	return e.Path
}

var hostSeparators = regexp.MustCompile(`[/\\]+`)

// NormalizePath rewrites host separators (either slash) to PathSeparator and
// drops leading and trailing separators.
func NormalizePath(p string) string {
	p = hostSeparators.ReplaceAllString(p, PathSeparator)
	for strings.HasPrefix(p, PathSeparator) {
		p = strings.TrimPrefix(p, PathSeparator)
	}
	for strings.HasSuffix(p, PathSeparator) {
		p = strings.TrimSuffix(p, PathSeparator)
	}
	return p
}

// LocalPath converts a canonical path back to the host's separator.
func LocalPath(canonical string) string {
	return filepath.FromSlash(strings.ReplaceAll(canonical, PathSeparator, "/"))
}
