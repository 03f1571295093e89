package domain

import "time"

type Stage string

const (
	StageExtraction     Stage = "extraction"
	StageTranslation    Stage = "translation"
	StageClassification Stage = "classification"
	StageFinalize       Stage = "metadata-finalize"

	// StageDone is the terminal sentinel: the job walked the whole sequence.
	StageDone Stage = "done"
)

// DefaultStageSequence is fixed per document; the field is data so a future
// per-document-type sequence needs no schema change.
func DefaultStageSequence() []Stage {
	return []Stage{StageExtraction, StageTranslation, StageClassification, StageFinalize}
}

type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusExtracting   JobStatus = "extracting"
	StatusTranslating  JobStatus = "translating"
	StatusClassifying  JobStatus = "classifying"
	StatusFinalizing   JobStatus = "finalizing"
	StatusCompleted    JobStatus = "completed"
	StatusNeedsReview  JobStatus = "needs_review"
	StatusDeadLettered JobStatus = "dead_lettered"
)

// Resting reports whether the job is at rest: no worker should advance it
// until a terminal ack, a manual decision, or a re-drive.
func (s JobStatus) Resting() bool {
	switch s {
	case StatusCompleted, StatusNeedsReview, StatusDeadLettered:
		return true
	}
	return false
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted
}

// RunningStatus maps a stage to the status a job carries while that stage runs.
func RunningStatus(stage Stage) JobStatus {
	switch stage {
	case StageExtraction:
		return StatusExtracting
	case StageTranslation:
		return StatusTranslating
	case StageClassification:
		return StatusClassifying
	case StageFinalize:
		return StatusFinalizing
	}
	return StatusQueued
}

// Job is one document's in-flight pipeline state. Exactly one live job exists
// per document id; the store's primary key enforces it.
type Job struct {
	DocumentID         string            `json:"document_id"`
	ContentRef         string            `json:"content_ref"`
	StageSequence      []Stage           `json:"stage_sequence"`
	CurrentStage       Stage             `json:"current_stage"`
	Status             JobStatus         `json:"status"`
	Attempts           map[Stage]int     `json:"attempts"`
	ConfidenceScores   map[Stage]float64 `json:"confidence_scores"`
	LastError          string            `json:"last_error,omitempty"`
	ExtractedText      string            `json:"extracted_text,omitempty"`
	TranslatedText     string            `json:"translated_text,omitempty"`
	TranslationSkipped bool              `json:"translation_skipped"`
	Category           string            `json:"category,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func NewJob(documentID, contentRef string) *Job {
	now := time.Now().UTC()
	seq := DefaultStageSequence()
	return &Job{
		DocumentID:       documentID,
		ContentRef:       contentRef,
		StageSequence:    seq,
		CurrentStage:     seq[0],
		Status:           StatusQueued,
		Attempts:         make(map[Stage]int),
		ConfidenceScores: make(map[Stage]float64),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// StageAfter returns the sequence member following the given stage, or
// StageDone when the stage is the last one (or not a member).
func (j *Job) StageAfter(stage Stage) Stage {
	for i, s := range j.StageSequence {
		if s == stage {
			if i+1 < len(j.StageSequence) {
				return j.StageSequence[i+1]
			}
			return StageDone
		}
	}
	return StageDone
}

// HasStage reports whether the stage is a member of the job's sequence.
func (j *Job) HasStage(stage Stage) bool {
	for _, s := range j.StageSequence {
		if s == stage {
			return true
		}
	}
	return false
}

// SourceText returns the text downstream stages should consume: the
// translation when one exists, otherwise the original-language extraction.
func (j *Job) SourceText() (text string, translated bool) {
	if !j.TranslationSkipped && j.TranslatedText != "" {
		return j.TranslatedText, true
	}
	return j.ExtractedText, false
}

// StageResult is the ephemeral outcome of one provider invocation. It is
// folded into the job and an audit entry, never persisted on its own.
type StageResult struct {
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`
}

// JobSettled is the payload reported back to the document service when a job
// reaches a terminal or suspended state.
type JobSettled struct {
	DocumentID         string            `json:"document_id"`
	Status             JobStatus         `json:"status"`
	Category           string            `json:"category,omitempty"`
	TranslationSkipped bool              `json:"translation_skipped"`
	ConfidenceScores   map[Stage]float64 `json:"confidence_scores,omitempty"`
	LastError          string            `json:"last_error,omitempty"`
}

func Settled(j *Job) JobSettled {
	return JobSettled{
		DocumentID:         j.DocumentID,
		Status:             j.Status,
		Category:           j.Category,
		TranslationSkipped: j.TranslationSkipped,
		ConfidenceScores:   j.ConfidenceScores,
		LastError:          j.LastError,
	}
}
