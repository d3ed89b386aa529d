package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tabletop-forge/mapsync/internal/engine"
	"github.com/tabletop-forge/mapsync/internal/store"
)

// REST adapters against the persistence API. The batcher and syncer only
// see function values, so tests substitute these freely.

// ChatFlusher posts a chat batch; a non-2xx status is an error so the
// batcher requeues the batch.
func ChatFlusher(hc *http.Client, baseURL, mapID, userID string) Flusher {
	return func(ctx context.Context, batch []store.ChatMessage) error {
		url := fmt.Sprintf("%s/maps/%s/chat", baseURL, mapID)
		return postJSON(ctx, hc, url, userID, batch, true)
	}
}

// ChatBeacon is the unload-time variant: same endpoint, but the response
// is ignored entirely. Best effort, never retried.
func ChatBeacon(hc *http.Client, baseURL, mapID, userID string) Flusher {
	return func(ctx context.Context, batch []store.ChatMessage) error {
		url := fmt.Sprintf("%s/maps/%s/chat", baseURL, mapID)
		_ = postJSON(ctx, hc, url, userID, batch, false)
		return nil
	}
}

// MapPutter writes the full document for the debounced syncer.
func MapPutter(hc *http.Client, baseURL, userID string) PutFunc {
	return func(ctx context.Context, m *engine.Map) error {
		state, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal map: %w", err)
		}
		body, err := json.Marshal(struct {
			Name  string          `json:"name"`
			State json.RawMessage `json:"state"`
		}{Name: m.Name, State: state})
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		url := fmt.Sprintf("%s/maps/%s", baseURL, m.ID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-Id", userID)

		resp, err := hc.Do(req)
		if err != nil {
			return fmt.Errorf("put map: %w", err)
		}
		defer drainAndClose(resp)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("put map: status %d", resp.StatusCode)
		}
		return nil
	}
}

func postJSON(ctx context.Context, hc *http.Client, url, userID string, v any, checkStatus bool) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", userID)

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)
	if checkStatus && resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
