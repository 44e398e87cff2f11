package tasks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
)

// Task types shared by producers and the worker.
const (
	TypeScoreJob    = "job:score"
	TypeScoreAll    = "jobs:score-all"
	TypeDiscover    = "jobs:discover"
	TypeTailorCV    = "materials:tailor-cv"
	TypeCoverLetter = "materials:cover-letter"
)

// Payload carries the candidate binding with every task; the worker has no
// session of its own.
type Payload struct {
	CandidateID   string `json:"candidate_id"`
	JobID         string `json:"job_id,omitempty"`
	Rescore       bool   `json:"rescore,omitempty"`
	Variant       string `json:"variant,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (p Payload) validate(taskType string) error {
	if strings.TrimSpace(p.CandidateID) == "" {
		return fmt.Errorf("%s: candidate id is required", taskType)
	}
	switch taskType {
	case TypeScoreJob, TypeTailorCV, TypeCoverLetter:
		if strings.TrimSpace(p.JobID) == "" {
			return fmt.Errorf("%s: job id is required", taskType)
		}
	}
	return nil
}

func newTask(taskType string, p Payload) (*asynq.Task, error) {
	if err := p.validate(taskType); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload), nil
}

func NewScoreJobTask(candidateID, jobID string) (*asynq.Task, error) {
	return newTask(TypeScoreJob, Payload{CandidateID: candidateID, JobID: jobID})
}

func NewScoreAllTask(candidateID string, rescore bool) (*asynq.Task, error) {
	return newTask(TypeScoreAll, Payload{CandidateID: candidateID, Rescore: rescore})
}

func NewDiscoverTask(candidateID string) (*asynq.Task, error) {
	return newTask(TypeDiscover, Payload{CandidateID: candidateID})
}

func NewTailorCVTask(candidateID, jobID string) (*asynq.Task, error) {
	return newTask(TypeTailorCV, Payload{CandidateID: candidateID, JobID: jobID})
}

func NewCoverLetterTask(candidateID, jobID, variant string) (*asynq.Task, error) {
	return newTask(TypeCoverLetter, Payload{CandidateID: candidateID, JobID: jobID, Variant: variant})
}
