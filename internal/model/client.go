package model

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ClientConfig holds configuration for the model runtime client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the model runtime over JSON/HTTP.
type Client struct {
	client *resty.Client
}

// NewClient creates a new model runtime client.
func NewClient(cfg *ClientConfig) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	// Training steps on CPU can take minutes
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	client.SetTimeout(timeout)

	return &Client{client: client}
}

type loadRequest struct {
	Checkpoint string `json:"checkpoint"`
}

type loadResponse struct {
	ModelID    string `json:"model_id"`
	Checkpoint string `json:"checkpoint"`
	PadTokenID int    `json:"pad_token_id"`
}

type generateRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text string `json:"text"`
}

type encodeRequest struct {
	Image      string `json:"image"`
	Text       string `json:"text"`
	MaxLength  int    `json:"max_length"`
	Padding    string `json:"padding"`
	Truncation bool   `json:"truncation"`
}

type trainStepRequest struct {
	Image         string  `json:"image"`
	InputIDs      []int   `json:"input_ids"`
	AttentionMask []int   `json:"attention_mask"`
	Labels        []int   `json:"labels"`
	Optimizer     string  `json:"optimizer"`
	LearningRate  float64 `json:"learning_rate"`
}

type trainStepResponse struct {
	Loss float64 `json:"loss"`
}

type saveRequest struct {
	Dir string `json:"dir"`
}

type errorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Load loads a checkpoint into the runtime.
func (c *Client) Load(ctx context.Context, checkpoint string) (*Handle, error) {
	var resp loadResponse
	if err := c.do(ctx, "load", http.MethodPost, "/v1/models/load", &loadRequest{Checkpoint: checkpoint}, &resp); err != nil {
		return nil, err
	}
	if resp.ModelID == "" {
		return nil, &RuntimeError{Op: "load", Message: "response has no model_id"}
	}
	if resp.Checkpoint == "" {
		resp.Checkpoint = checkpoint
	}
	return &Handle{ID: resp.ModelID, Checkpoint: resp.Checkpoint, PadTokenID: resp.PadTokenID}, nil
}

// Generate runs one generation pass for image and prompt.
func (c *Client) Generate(ctx context.Context, h *Handle, image, prompt string) (string, error) {
	var resp generateResponse
	if err := c.do(ctx, "generate", http.MethodPost, modelPath(h, "generate"), &generateRequest{Image: image, Prompt: prompt}, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Encode tokenizes text for training, padded and truncated to maxLength.
func (c *Client) Encode(ctx context.Context, h *Handle, image, text string, maxLength int) (*Encoding, error) {
	req := &encodeRequest{
		Image:      image,
		Text:       text,
		MaxLength:  maxLength,
		Padding:    "max_length",
		Truncation: true,
	}
	var resp Encoding
	resp.PadTokenID = h.PadTokenID
	if err := c.do(ctx, "encode", http.MethodPost, modelPath(h, "encode"), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.InputIDs) == 0 {
		return nil, &RuntimeError{Op: "encode", Message: "response has no input_ids"}
	}
	return &resp, nil
}

// TrainStep runs one supervised step with AdamW and returns the loss.
func (c *Client) TrainStep(ctx context.Context, h *Handle, ex *TrainExample, learningRate float64) (float64, error) {
	req := &trainStepRequest{
		Image:         ex.Image,
		InputIDs:      ex.InputIDs,
		AttentionMask: ex.AttentionMask,
		Labels:        ex.Labels,
		Optimizer:     "adamw",
		LearningRate:  learningRate,
	}
	var resp trainStepResponse
	if err := c.do(ctx, "train_step", http.MethodPost, modelPath(h, "train_step"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Loss, nil
}

// Save persists the model and processor config to dir.
func (c *Client) Save(ctx context.Context, h *Handle, dir string) error {
	return c.do(ctx, "save", http.MethodPost, modelPath(h, "save"), &saveRequest{Dir: dir}, nil)
}

// Unload releases the model inside the runtime.
func (c *Client) Unload(ctx context.Context, h *Handle) error {
	return c.do(ctx, "unload", http.MethodDelete, "/v1/models/"+url.PathEscape(h.ID), nil, nil)
}

func modelPath(h *Handle, action string) string {
	return "/v1/models/" + url.PathEscape(h.ID) + "/" + action
}

func (c *Client) do(ctx context.Context, op, method, path string, body, result interface{}) error {
	var errResp errorResponse
	req := c.client.R().
		SetContext(ctx).
		SetError(&errResp)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	httpResp, err := req.Execute(method, path)
	if err != nil {
		return &RuntimeError{Op: op, Err: err}
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := string(httpResp.Body())
		if errResp.Error != nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return &RuntimeError{Op: op, Status: httpResp.StatusCode(), Message: msg}
	}
	return nil
}

var _ Runtime = (*Client)(nil)
