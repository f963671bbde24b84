package api

import (
	"time"

	"github.com/samcharles93/tradepolicy/internal/action"
	"github.com/samcharles93/tradepolicy/internal/graph"
)

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ActionRequest struct {
	Observation []float32 `json:"observation"`
}

type ActionResponse struct {
	ID            string        `json:"id"`
	Action        action.Action `json:"action"`
	ActionIndex   int           `json:"action_index"`
	Logits        []float32     `json:"logits"`
	Probabilities []float32     `json:"probabilities"`
	Value         []float32     `json:"value,omitempty"`
	LatencyMS     float64       `json:"latency_ms"`
}

type ModelResponse struct {
	Initialized bool              `json:"initialized"`
	LedgerBytes int               `json:"ledger_bytes"`
	Inputs      []graph.ValueSpec `json:"inputs"`
	Outputs     []graph.ValueSpec `json:"outputs"`
	Ops         map[string]int    `json:"ops"`
	Steps       int               `json:"steps"`
	Model       *graph.ModelInfo  `json:"model,omitempty"`
	CompiledAt  *time.Time        `json:"compiled_at"`
}

type LedgerResponse struct {
	LedgerBytes int `json:"ledger_bytes"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
