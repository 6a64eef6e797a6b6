package session

import "time"

// Status is the lifecycle state of a session.
type Status int

const (
	// Inactive: no subprocess and no open primitives.
	Inactive Status = iota
	// Starting: the subprocess launch is in flight on a background goroutine.
	Starting
	// Started: the subprocess is running and primitives are being opened.
	Started
	// Running: the subprocess reported loaded content.
	Running
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// StatusEvent describes one status transition.
type StatusEvent struct {
	SessionID uint32
	From      Status
	To        Status
	Reason    string
	Time      time.Time
}
