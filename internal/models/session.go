package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session is the relay-side record of one live connection.
// ReviewerID stays empty until the first valid event names it.
type Session struct {
	ID          string    `json:"sessionId"`
	ReviewerID  string    `json:"reviewerId,omitempty"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
	InstanceID  string    `json:"instanceId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// SessionInfo is the read-only view returned by the session listing.
type SessionInfo struct {
	ReviewerID  string    `json:"reviewerId"`
	SessionID   string    `json:"sessionId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func NewSession(remoteAddr, instanceID string) *Session {
	return &Session{
		ID:          ksuid.New().String(),
		RemoteAddr:  remoteAddr,
		InstanceID:  instanceID,
		ConnectedAt: time.Now(),
	}
}
