package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adaptixlab/adaptix/types"
)

// httpTrainer forwards retrain requests to the external training service. The
// models themselves live outside this process; all we owe them is the
// window-trimmed dataset.
type httpTrainer struct {
	url    string
	client *http.Client
}

type trainRequest struct {
	ModelID string           `json:"modelId"`
	Dataset types.MarketData `json:"dataset"`
}

func newHTTPTrainer(url string, timeout time.Duration) *httpTrainer {
	return &httpTrainer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Train blocks until the training service accepts or rejects the job
func (t *httpTrainer) Train(ctx context.Context, modelID string, dataset types.MarketData) error {
	body, err := json.Marshal(trainRequest{ModelID: modelID, Dataset: dataset})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("trainer returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
