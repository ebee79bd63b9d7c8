package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPEmitter sends run events to a webhook endpoint, keeping a local file
// backup of everything it sends.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	chain    *ChainTracker
	backup   *FileBackup
}

var _ Emitter = (*HTTPEmitter)(nil)

// NewHTTPEmitter creates a new webhook emitter.
func NewHTTPEmitter(cfg Config) (*HTTPEmitter, error) {
	chain, err := NewChainTracker(cfg.stateDir())
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}

	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	return &HTTPEmitter{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		chain:  chain,
		backup: backup,
	}, nil
}

// EmitRun finalizes the event envelope, chains it to the previous event for
// the same file, and POSTs it to the endpoint.
func (e *HTTPEmitter) EmitRun(ctx context.Context, evt *Event) error {
	chainKey := evt.Document.ChainKey()

	prevHash, err := e.chain.GetHead(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventTypeRun
	evt.EventID = GenerateEventID()
	evt.Timestamp = time.Now().UTC()
	evt.SetChainHashes(prevHash)

	log := slog.With("file_key", chainKey, "run_id", evt.Run.RunID)
	log.Info("emitting run event",
		"event_id", evt.EventID,
		"event_hash", evt.Chain.EventHash,
		"prev_hash", prevHash,
	)

	// Backup locally before the POST so the event survives endpoint outages.
	if err := e.backup.Save(evt); err != nil {
		log.Warn("event backup failed", "error", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("emit run event: %w", err)
	}

	if err := e.chain.SetHead(chainKey, evt.Chain.EventHash); err != nil {
		log.Warn("failed to update chain head", "error", err)
	}

	return nil
}

// postWithRetry sends the event to the endpoint with retries.
func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	retries := 3
	delay := time.Second

	for attempt := 1; attempt <= retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < retries {
			slog.Warn("webhook post failed, retrying",
				"attempt", attempt,
				"retries", retries,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	return nil
}
