package model

import (
	"context"
	"fmt"
)

// IgnoreIndex marks label positions the loss must not count.
const IgnoreIndex = -100

// Handle identifies a model loaded inside the runtime.
type Handle struct {
	ID         string
	Checkpoint string
	PadTokenID int
}

// Encoding is the tokenized text half of a training example.
type Encoding struct {
	InputIDs      []int `json:"input_ids"`
	AttentionMask []int `json:"attention_mask"`
	PadTokenID    int   `json:"pad_token_id"`
}

// TrainExample is one supervised (image, caption) pair ready for a step.
type TrainExample struct {
	Image         string // data URL
	InputIDs      []int
	AttentionMask []int
	Labels        []int
}

// Runtime is the model runtime: it owns weights, tokenizer and optimizer
// state, and this module only ever refers to a loaded model by Handle.
type Runtime interface {
	// Load loads a checkpoint (local directory or hub identifier).
	Load(ctx context.Context, checkpoint string) (*Handle, error)
	// Generate runs one generation pass and returns the decoded text.
	Generate(ctx context.Context, h *Handle, image, prompt string) (string, error)
	// Encode tokenizes text against image, padded and truncated to maxLength.
	Encode(ctx context.Context, h *Handle, image, text string, maxLength int) (*Encoding, error)
	// TrainStep runs forward, backward, one optimizer step and zero-grad.
	TrainStep(ctx context.Context, h *Handle, ex *TrainExample, learningRate float64) (float64, error)
	// Save writes the model and its processor config to dir.
	Save(ctx context.Context, h *Handle, dir string) error
	// Unload releases the model.
	Unload(ctx context.Context, h *Handle) error
}

// RuntimeError is a failure reported by, or talking to, the model runtime.
type RuntimeError struct {
	Op      string
	Status  int // 0 when the request never got a response
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("model runtime %s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("model runtime %s: HTTP %d: %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("model runtime %s: %s", e.Op, e.Message)
	}
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// MaskPadding returns a copy of inputIDs with every padding position set to
// IgnoreIndex, for use as training labels.
func MaskPadding(inputIDs []int, padTokenID int) []int {
	labels := make([]int, len(inputIDs))
	for i, id := range inputIDs {
		if id == padTokenID {
			labels[i] = IgnoreIndex
			continue
		}
		labels[i] = id
	}
	return labels
}
