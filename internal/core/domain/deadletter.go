package domain

import "time"

// DeadLetter holds a job that exhausted retries. It halts automatic progress
// only; the document and its partial results stay in the job store.
type DeadLetter struct {
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	LastError  string    `json:"last_error"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}
