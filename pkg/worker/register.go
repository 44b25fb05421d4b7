package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/infermesh/infermesh/pkg/log"
)

// register announces the worker to the orchestrator. Registration is
// idempotent on the orchestrator side, so the announcement is retried until
// it lands or the context ends, then repeated periodically to survive an
// orchestrator restart.
func (s *Server) register(ctx context.Context) {
	logger := log.WithWorkerID(s.worker.ID())

	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil

	interval := s.cfg.HealthCheckInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}

	announce := func() {
		if err := s.announce(ctx, client); err != nil {
			logger.Warn().Err(err).Msg("registration with orchestrator failed")
			return
		}
		logger.Debug().Str("orchestrator", s.cfg.OrchestratorURL).Msg("registered with orchestrator")
	}

	announce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			announce()
		}
	}
}

func (s *Server) announce(ctx context.Context, client *retryablehttp.Client) error {
	payload, err := json.Marshal(s.AdvertisedWorker())
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.OrchestratorURL+"/api/workers/register", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("orchestrator returned HTTP %d", resp.StatusCode)
	}
	return nil
}
