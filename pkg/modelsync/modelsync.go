// Package modelsync keeps the local model catalog current with the
// external model marketplace (SPEC_FULL.md §6.2): on an interval, and
// on demand via POST /models/sync, it fetches the marketplace's model
// list and upserts it into the store by code.
package modelsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/meek/pkg/config"
	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/store"
	"github.com/cuemby/meek/pkg/types"
)

// DefaultInterval is the periodic sync cadence when cfg.Interval is unset.
const DefaultInterval = 15 * time.Minute

// DefaultTimeout bounds a single HTTP round trip to the marketplace.
const DefaultTimeout = 30 * time.Second

// catalogModel is the marketplace's wire shape for one model.
type catalogModel struct {
	Code       string         `json:"code"`
	Version    string         `json:"version"`
	ClassCount int            `json:"class_count"`
	ClassNames map[int]string `json:"class_names"`
}

type catalogResponse struct {
	Data []catalogModel `json:"data"`
}

// Syncer fetches the marketplace model catalog and upserts it into
// the store. Satisfies pkg/api.ModelSyncer.
type Syncer struct {
	store  store.Store
	cfg    config.ModelSyncConfig
	client *http.Client
	logger zerolog.Logger

	mu       sync.Mutex
	lastSync time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Syncer. A nil store is never valid; cfg.Enabled gates
// both Start's background loop and Sync itself.
func New(s store.Store, cfg config.ModelSyncConfig) *Syncer {
	return &Syncer{
		store:  s,
		cfg:    cfg,
		client: &http.Client{Timeout: DefaultTimeout},
		logger: log.WithComponent("modelsync"),
		stopCh: make(chan struct{}),
	}
}

func (s *Syncer) interval() time.Duration {
	if s.cfg.Interval <= 0 {
		return DefaultInterval
	}
	return s.cfg.Interval
}

// Start runs the periodic sync loop. A no-op if sync is disabled.
func (s *Syncer) Start() {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("model sync disabled, not starting periodic loop")
		return
	}
	s.wg.Add(1)
	go s.run()
}

// Stop ends the periodic loop, if running.
func (s *Syncer) Stop() {
	if !s.cfg.Enabled {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Syncer) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Sync(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("periodic model sync failed")
			}
		}
	}
}

// Sync fetches the marketplace catalog over HTTP and upserts every
// model by code. Returns a configuration error if sync is disabled or
// no endpoint/API key is set, matching the marketplace client's own
// "remote disabled" short-circuit.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.cfg.Enabled {
		return fmt.Errorf("model sync is disabled")
	}
	if s.cfg.Endpoint == "" {
		return fmt.Errorf("model sync endpoint is not configured")
	}
	if s.cfg.APIKey == "" {
		return fmt.Errorf("model sync API key is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint+"/models", nil)
	if err != nil {
		return fmt.Errorf("build marketplace request: %w", err)
	}
	req.Header.Set("x-api-key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}

	var catalog catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return fmt.Errorf("decode marketplace catalog: %w", err)
	}

	for _, m := range catalog.Data {
		model := &types.Model{
			Code:       m.Code,
			Version:    m.Version,
			ClassCount: m.ClassCount,
			ClassNames: m.ClassNames,
		}
		if _, err := s.store.UpsertModel(ctx, model); err != nil {
			return fmt.Errorf("upsert model %q: %w", m.Code, err)
		}
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()

	s.logger.Info().Int("count", len(catalog.Data)).Msg("synced model catalog")
	return nil
}

// LastSync reports when Sync last completed successfully, the zero
// value if it never has.
func (s *Syncer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}
