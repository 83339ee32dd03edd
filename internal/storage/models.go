package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueryEngine is the metadata record for one retrieval index. IndexID,
// Endpoint and DeployedIndexName stay empty until a deploy succeeds; once
// set they never change for the engine's lifetime.
type QueryEngine struct {
	ID                string
	Name              string
	Backend           string // "matching" or "sqlvec"
	EmbeddingModel    string
	IndexBase         int64
	IndexID           string
	Endpoint          string
	DeployedIndexName string
	Owner             string
	Public            bool
	AccessGroups      string // JSON array stored as text
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Deployed reports whether the engine has a published backing index.
func (q *QueryEngine) Deployed() bool {
	return q.IndexID != "" && q.Endpoint != ""
}

// Conversation is one chat session. History is the JSON-encoded entry list;
// appends are last-writer-wins at this layer.
type Conversation struct {
	ID        string
	UserEmail string
	Title     string
	History   string // JSON array of chat entries stored as text
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job is a queued background task, claimed and retried with backoff.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
