package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/fgsvc/internal/history"
)

// Sink indexes events into OpenSearch. Events with an ID are written with
// PUT {index}/_doc/{id} so a resend overwrites instead of duplicating.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

// document is the flattened shape stored in the index.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Task      string    `json:"task"`
	PID       int       `json:"pid,omitempty"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(document{
		Timestamp: e.OccurredAt,
		Event:     string(e.Type),
		Task:      e.Record.Name,
		PID:       e.Record.PID,
		State:     e.Record.State,
		StartedAt: e.Record.StartedAt,
		Error:     e.Record.Error,
	})
	if err != nil {
		return err
	}

	method, u := http.MethodPost, fmt.Sprintf("%s/%s/_doc", s.baseURL, url.PathEscape(s.index))
	if e.ID != "" {
		method, u = http.MethodPut, u+"/"+url.PathEscape(e.ID)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
