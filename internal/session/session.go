package session

import (
	"bytes"
	"io"
	"time"
)

// Session is one interactive upload flow: a title captured once at start and
// the files accumulated across picker invocations.
type Session struct {
	ID        string
	Title     string
	Files     []FileHandle
	StartedAt time.Time
}

// FileHandle is an opaque reference to a file blob plus its name.
// The controller never mutates a handle once it has been appended.
type FileHandle interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// Phase is the controller's position in the session lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingFiles
	PhaseSubmitted
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingFiles:
		return "awaiting-files"
	case PhaseSubmitted:
		return "submitted"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// Outcome tracks the latest submission attempt while in PhaseSubmitted.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomePending
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// memoryFile is a FileHandle over an in-memory byte slice.
type memoryFile struct {
	name string
	data []byte
}

// NewMemoryFile returns a FileHandle whose contents live in memory.
func NewMemoryFile(name string, data []byte) FileHandle {
	return &memoryFile{name: name, data: data}
}

func (m *memoryFile) Name() string { return m.name }

func (m *memoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}
