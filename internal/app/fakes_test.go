package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"review_pipeline/internal/domain"
)

// ---- in-memory store ----

type memStore struct {
	mu sync.Mutex

	entities []domain.Entity
	raw      []domain.RawEnvelope
	unified  []domain.CanonicalReview
	std      []domain.StandardizedReview
	enriched map[string]domain.EnrichedReview
	scores   map[int64]domain.EntityScore

	failIDs      error
	failInsertAt int // 1-based InsertUnified call that fails; 0 = never
	inserts      int
	merges       [][]domain.EnrichmentPatch
}

func newMemStore() *memStore {
	return &memStore{enriched: map[string]domain.EnrichedReview{}, scores: map[int64]domain.EntityScore{}}
}

func inEntities(ids []int64, id int64) bool {
	if len(ids) == 0 {
		return true
	}
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func (m *memStore) GetEntityByPrimaryURL(ctx context.Context, url string) (domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.PrimaryURL == url {
			return e, nil
		}
	}
	return domain.Entity{}, domain.ErrNotFound
}

func (m *memStore) CreateEntity(ctx context.Context, e domain.Entity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entities) + 1)
	m.entities = append(m.entities, e)
	return e.ID, nil
}

func (m *memStore) ListEntities(ctx context.Context, ids []int64) ([]domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Entity
	for _, e := range m.entities {
		if inEntities(ids, e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) UpdateScrapeInfo(ctx context.Context, id int64, p domain.Platform, total int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entities {
		if m.entities[i].ID != id {
			continue
		}
		if p == domain.PlatformGoogle {
			m.entities[i].GoogleTotal, m.entities[i].GoogleLastScraped = total, &at
		} else {
			m.entities[i].TrustpilotTotal, m.entities[i].TrustpilotLastScraped = total, &at
		}
	}
	return nil
}

func (m *memStore) InsertRaw(ctx context.Context, rs []domain.RawEnvelope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rs {
		r.ID = int64(len(m.raw) + 1)
		m.raw = append(m.raw, r)
	}
	return int64(len(rs)), nil
}

func (m *memStore) ScanRaw(ctx context.Context, p domain.Platform, ids []int64, fn func(domain.RawEnvelope) error) error {
	for _, r := range m.raw {
		if r.Platform != p || !inEntities(ids, r.EntityID) {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) UnifiedIDs(ctx context.Context) ([]string, error) {
	if m.failIDs != nil {
		return nil, m.failIDs
	}
	out := make([]string, len(m.unified))
	for i, u := range m.unified {
		out[i] = u.ID
	}
	return out, nil
}

func (m *memStore) InsertUnified(ctx context.Context, rs []domain.CanonicalReview) (int64, error) {
	m.inserts++
	if m.failInsertAt == m.inserts {
		return 0, errors.New("Error 1213: deadlock found when trying to get lock")
	}
	have := map[string]bool{}
	for _, u := range m.unified {
		have[u.ID] = true
	}
	var n int64
	for _, r := range rs {
		if have[r.ID] {
			continue
		}
		have[r.ID] = true
		m.unified = append(m.unified, r)
		n++
	}
	return n, nil
}

func (m *memStore) ScanUnified(ctx context.Context, f domain.ReviewFilter, fn func(domain.CanonicalReview) error) error {
	for _, u := range m.unified {
		if !inEntities(f.EntityIDs, u.EntityID) {
			continue
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) StandardizedIDs(ctx context.Context) ([]string, error) {
	out := make([]string, len(m.std))
	for i, s := range m.std {
		out[i] = s.ID
	}
	return out, nil
}

func (m *memStore) InsertStandardized(ctx context.Context, rs []domain.StandardizedReview) (int64, error) {
	m.std = append(m.std, rs...)
	return int64(len(rs)), nil
}

func (m *memStore) ListStandardized(ctx context.Context, f domain.ReviewFilter) ([]domain.StandardizedReview, error) {
	var out []domain.StandardizedReview
	for _, s := range m.std {
		if !inEntities(f.EntityIDs, s.EntityID) {
			continue
		}
		if f.PublishedAfter != "" && s.PublishedAt < f.PublishedAfter {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) RatingSummary(ctx context.Context) (float64, int64, error) {
	sum, n := 0.0, int64(0)
	for _, s := range m.std {
		if s.Rating != nil && *s.Rating > 0 {
			sum += *s.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

func (m *memStore) EntityRatings(ctx context.Context, entityID int64) (map[string]float64, error) {
	out := map[string]float64{}
	for _, s := range m.std {
		if s.EntityID == entityID && s.Rating != nil && *s.Rating > 0 {
			out[s.ID] = *s.Rating
		}
	}
	return out, nil
}

func (m *memStore) EnrichmentAttributes(ctx context.Context, ids []string) (map[string]domain.Attributes, error) {
	out := map[string]domain.Attributes{}
	for _, id := range ids {
		if e, ok := m.enriched[id]; ok {
			a := domain.Attributes{domain.AttrHasResponse: e.HasResponse}
			for k, v := range e.Attributes {
				a[k] = v
			}
			out[id] = a
		}
	}
	return out, nil
}

func (m *memStore) MergeEnrichment(ctx context.Context, ps []domain.EnrichmentPatch) (int64, error) {
	m.merges = append(m.merges, ps)
	for _, p := range ps {
		e, ok := m.enriched[p.ID]
		if !ok {
			e = domain.EnrichedReview{ID: p.ID, Attributes: domain.Attributes{}}
		}
		e.EntityID, e.Platform, e.PublishedAt = p.EntityID, p.Platform, p.PublishedAt
		e.HasResponse, e.ReviewLength = p.HasResponse, p.ReviewLength
		for k, v := range p.Attributes {
			e.Attributes[k] = v
		}
		m.enriched[p.ID] = e
	}
	return int64(len(ps)), nil
}

func (m *memStore) ListEnriched(ctx context.Context, entityID int64) ([]domain.EnrichedReview, error) {
	var out []domain.EnrichedReview
	for _, e := range m.enriched {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SaveScores(ctx context.Context, s domain.EntityScore) error {
	m.scores[s.EntityID] = s
	return nil
}

func (m *memStore) GetScores(ctx context.Context, id int64) (domain.EntityScore, error) {
	s, ok := m.scores[id]
	if !ok {
		return domain.EntityScore{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memStore) ScoredEntityIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	for id := range m.scores {
		out = append(out, id)
	}
	return out, nil
}

// ---- collaborators ----

type fakeGen struct {
	calls   []string
	replies []string // consumed in order; the last one repeats
	err     error
	fn      func(prompt string) (string, error)
}

func (g *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls = append(g.calls, prompt)
	if g.fn != nil {
		return g.fn(prompt)
	}
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	r := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return r, nil
}

// fakeDetector reports "en" unless the text contains a marker word.
type fakeDetector struct{}

func (fakeDetector) Detect(text string) (string, bool) {
	t := strings.TrimSpace(text)
	switch {
	case len(t) < 5:
		return "", false
	case strings.Contains(t, "Sehr"), strings.Contains(t, "Danke"):
		return "de", true
	case strings.Contains(t, "??"):
		return "", false
	}
	return "en", true
}

type fakeCache struct {
	store  map[string][]byte
	dels   []string
	delErr error
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.dels = append(c.dels, key)
	if c.delErr != nil {
		return c.delErr
	}
	delete(c.store, key)
	return nil
}

func ptr[T any](v T) *T { return &v }
