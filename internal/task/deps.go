package task

import (
	"context"
	"errors"
	"time"
)

// Collaborator interfaces consumed by the built-in handlers. Implementations
// live in their own packages (gemini, gdrive, gmail, runner, sysmon); tests
// substitute fakes.

// ErrRemoteNotFound is returned by Drive lookups that match nothing.
var ErrRemoteNotFound = errors.New("remote object not found")

// CompleteRequest is a single AI completion call.
type CompleteRequest struct {
	Prompt string
	System string
	// History carries prior turns, oldest first.
	History []ChatTurn
}

type ChatTurn struct {
	Role string // "user" or "model"
	Text string
}

// Completer is the AI collaborator.
type Completer interface {
	Complete(ctx context.Context, req CompleteRequest) (string, error)
}

// FileMeta describes a remote file or folder.
type FileMeta struct {
	ID       string
	Name     string
	Modified time.Time
	Folder   bool
	Size     int64
}

// Drive is the remote object storage collaborator.
type Drive interface {
	ListChildren(ctx context.Context, folderID string) ([]FileMeta, error)
	Download(ctx context.Context, fileID string) ([]byte, error)
	Upload(ctx context.Context, name string, data []byte, parentID string) (FileMeta, error)
	CreateFolder(ctx context.Context, name, parentID string) (FileMeta, error)
	// FindFolder returns ErrRemoteNotFound when no folder matches.
	FindFolder(ctx context.Context, name, parentID string) (FileMeta, error)
}

// MessageRef identifies one mailbox item.
type MessageRef struct {
	ID string
}

type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

type Message struct {
	ID          string
	Subject     string
	From        string
	Date        string
	Body        string
	Attachments []Attachment
}

// Mailbox is the inbound email collaborator. Delivery is at-least-once:
// an unread item may be observed by several runs until marked processed.
type Mailbox interface {
	ListUnread(ctx context.Context, max int) ([]MessageRef, error)
	GetFull(ctx context.Context, id string) (Message, error)
}

// RunResult is the captured output of an external command.
type RunResult struct {
	Stdout string
	Stderr string
}

// Runner executes shell commands with a bounded lifetime.
type Runner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (RunResult, error)
}

// Stats is one point-in-time system sample.
type Stats struct {
	CPUPercent  float64
	MemPercent  float64
	Temperature *float64 // nil when no sensor is readable
}

// Sampler reads system health.
type Sampler interface {
	Sample(ctx context.Context) (Stats, error)
}

// Publisher is the event fanout the handlers push alerts into.
// It matches eventbus.Bus without importing it, so handler tests can capture
// published events with a slice-backed fake.
type Publisher interface {
	Publish(eventType string, data any)
}
