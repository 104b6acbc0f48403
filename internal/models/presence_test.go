package models

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"src/main/App.kt", "src::main::App.kt"},
		{`src\main\App.kt`, "src::main::App.kt"},
		{"/project/a.go", "project::a.go"},
		{"mixed\\dirs/file.ts", "mixed::dirs::file.ts"},
		{"dir//double", "dir::double"},
		{"plain.txt", "plain.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestLocalPath(t *testing.T) {
	got := LocalPath("src::main::App.kt")
	assert.Equal(t, filepath.Join("src", "main", "App.kt"), got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      PresenceEvent
		wantErr bool
	}{
		{"line ok", PresenceEvent{ReviewerID: "alice", Kind: LineChanged, Line: 1}, false},
		{"path ok", PresenceEvent{ReviewerID: "alice", Kind: PathChanged, Path: "a::b"}, false},
		{"no reviewer", PresenceEvent{Kind: LineChanged, Line: 3}, true},
		{"blank reviewer", PresenceEvent{ReviewerID: "  ", Kind: LineChanged, Line: 3}, true},
		{"zero line", PresenceEvent{ReviewerID: "alice", Kind: LineChanged}, true},
		{"negative line", PresenceEvent{ReviewerID: "alice", Kind: LineChanged, Line: -4}, true},
		{"empty path", PresenceEvent{ReviewerID: "alice", Kind: PathChanged}, true},
		{"both values", PresenceEvent{ReviewerID: "alice", Kind: PathChanged, Path: "x", Line: 2}, true},
		{"unknown kind", PresenceEvent{ReviewerID: "alice", Line: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
