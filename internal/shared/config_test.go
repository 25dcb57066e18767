package shared

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"review_pipeline/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Pipeline.UnifyBatchSize)
	assert.Equal(t, 500, cfg.Pipeline.StandardizeBatchSize)
	assert.Equal(t, 30, cfg.Enrichment.BatchSize)
	assert.Equal(t, 3, cfg.Enrichment.SentimentChunkSize)
	assert.Equal(t, 1_000_000, cfg.Enrichment.ContextWindow)
	assert.InDelta(t, 0.70, cfg.Enrichment.BudgetRatio, 1e-9)
	assert.Equal(t, 100.0, cfg.Pipeline.PriorWeight)
	assert.Equal(t, 4.0, cfg.Pipeline.DefaultPrior)
	assert.Len(t, cfg.Enrichment.Sentiment, 9)
	require.Len(t, cfg.Enrichment.Complaint, 1)
	assert.Equal(t, domain.AttrIsComplaint, cfg.Enrichment.Complaint[0].Name)
	assert.Len(t, cfg.Enrichment.Response, 2)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_env: dev
enrichment:
  batch_size: 12
  target_entities: [3, 5]
  sentiment_attributes:
    - name: staff_satisfaction
      description: staff
    - name: facility
      description: rooms and equipment
      enabled: false
`), 0o600))
	t.Setenv("ENRICH_BATCH_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 7, cfg.Enrichment.BatchSize, "env wins over file")
	assert.Equal(t, []int64{3, 5}, cfg.Enrichment.Entities)
	require.Len(t, cfg.Enrichment.Sentiment, 2)

	enabled := Enabled(cfg.Enrichment.Sentiment)
	require.Len(t, enabled, 1)
	assert.Equal(t, "staff_satisfaction", enabled[0].Name)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"ratio zero":       func(c *Config) { c.Enrichment.BudgetRatio = 0 },
		"ratio above one":  func(c *Config) { c.Enrichment.BudgetRatio = 1.5 },
		"zero batch":       func(c *Config) { c.Pipeline.UnifyBatchSize = 0 },
		"negative weight":  func(c *Config) { c.Pipeline.PriorWeight = -1 },
		"empty dsn":        func(c *Config) { c.MySQLDSN = "" },
		"duplicate attr":   func(c *Config) { c.Enrichment.Response = append(c.Enrichment.Response, Attribute{Name: "facility"}) },
		"unnamed attr":     func(c *Config) { c.Enrichment.Complaint = []Attribute{{Description: "x"}} },
		"zero chars/token": func(c *Config) { c.Enrichment.CharsPerToken = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			c.Enrichment.Response = append([]Attribute(nil), base.Enrichment.Response...)
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), domain.ErrConfig)
		})
	}
	assert.NoError(t, base.Validate())
}

func TestValidateFor(t *testing.T) {
	c := Config{}
	assert.ErrorIs(t, c.ValidateFor("scrape"), domain.ErrConfig)
	assert.ErrorIs(t, c.ValidateFor("enrich"), domain.ErrConfig)
	assert.NoError(t, c.ValidateFor("unify"))

	c.Apify.Token = "tok"
	c.LLM.BaseURL = "http://localhost:11434/v1"
	assert.NoError(t, c.ValidateFor("scrape"))
	assert.NoError(t, c.ValidateFor("standardize"))
}
