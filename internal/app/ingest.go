package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"review_pipeline/internal/domain"
)

// Ingestor registers entities from the entity list and appends their
// scraped reviews to the raw store.
type Ingestor struct {
	Entities domain.EntityStore
	Raw      domain.RawStore
	Scraper  domain.Scraper
	Loader   domain.EntityLoader
	Cache    domain.Cache // optional
	Workers  int

	Now func() time.Time
}

func (s *Ingestor) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// LoadEntities gets or creates one entity per row of the entity list.
func (s *Ingestor) LoadEntities(ctx context.Context, run *Run, path string) ([]domain.Entity, error) {
	log := run.Stage("scrape")
	rows, err := s.Loader.LoadEntities(path)
	if err != nil {
		return nil, fmt.Errorf("load entity list: %w", err)
	}
	out := make([]domain.Entity, 0, len(rows))
	for _, r := range rows {
		e, err := s.Entities.GetEntityByPrimaryURL(ctx, r.PrimaryURL)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			e = domain.Entity{DisplayName: r.DisplayName, PrimaryURL: r.PrimaryURL, SecondaryURL: r.SecondaryURL}
			if e.ID, err = s.Entities.CreateEntity(ctx, e); err != nil {
				return nil, fmt.Errorf("create entity %q: %w", r.DisplayName, err)
			}
			log.Info().Int64("entity_id", e.ID).Str("name", r.DisplayName).Msg("entity created")
		default:
			return nil, fmt.Errorf("lookup entity %q: %w", r.DisplayName, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ScrapeEntity scrapes every platform of one entity. A failing platform
// yields nothing and does not stop the others.
func (s *Ingestor) ScrapeEntity(ctx context.Context, run *Run, e domain.Entity) (int, error) {
	log := run.Stage("scrape").With().Int64("entity_id", e.ID).Logger()
	total := 0
	for _, p := range domain.Platforms {
		target := e.PrimaryURL
		if p == domain.PlatformTrustpilot {
			target = e.SecondaryURL
		}
		if target == "" {
			log.Debug().Str("platform", string(p)).Msg("no url, platform skipped")
			continue
		}

		items, err := s.Scraper.Scrape(ctx, p, target)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			log.Warn().Err(err).Str("platform", string(p)).Str("url", target).Msg("scrape failed, treating as empty")
			items = nil
		}

		at := s.now()
		envs := make([]domain.RawEnvelope, 0, len(items))
		for _, it := range items {
			b, err := json.Marshal(it)
			if err != nil {
				log.Warn().Err(err).Msg("skip unencodable item")
				continue
			}
			envs = append(envs, domain.RawEnvelope{EntityID: e.ID, Platform: p, Payload: b, ScrapedAt: at})
		}
		if len(envs) > 0 {
			n, err := s.Raw.InsertRaw(ctx, envs)
			if err != nil {
				return total, fmt.Errorf("insert raw %s: %w", p, err)
			}
			total += int(n)
		}
		if err := s.Entities.UpdateScrapeInfo(ctx, e.ID, p, len(envs), at); err != nil {
			log.Warn().Err(err).Str("platform", string(p)).Msg("update scrape info failed")
		}
		log.Info().Str("platform", string(p)).Int("reviews", len(envs)).Msg("platform scraped")
	}
	invalidate(ctx, s.Cache, log, statsKey)
	return total, nil
}

// Run loads the entity list and scrapes entities with bounded fan-out.
// Entities are independent, so their raw inserts never conflict.
func (s *Ingestor) Run(ctx context.Context, run *Run, path string) (Outcome, error) {
	log := run.Stage("scrape")
	out := newOutcome("scrape")

	entities, err := s.LoadEntities(ctx, run, path)
	if err != nil {
		return *out, err
	}
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	log.Info().Int("entities", len(entities)).Int("workers", workers).Msg("scrape started")

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, e := range entities {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(e domain.Entity) {
			defer wg.Done()
			defer sem.Release(1)

			n, err := s.ScrapeEntity(ctx, run, e)
			mu.Lock()
			defer mu.Unlock()
			out.record(ItemResult{ID: strconv.FormatInt(e.ID, 10)})
			if n > 0 {
				out.wrote(int64(n))
			}
			if err != nil && ctx.Err() == nil {
				out.FailedBatches++
				log.Warn().Int64("entity_id", e.ID).Err(err).Msg("scrape failed")
			}
		}(e)
	}
	wg.Wait()

	if ctx.Err() != nil {
		out.Cancelled = true
	}
	log.Info().Int64("raw_written", out.Written).Msg("scrape finished")
	return *out, nil
}
