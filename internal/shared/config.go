package shared

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"review_pipeline/internal/domain"
)

// Config is read from an optional YAML file and then from the environment.
// Secrets (DSN, API keys) are env-only.
type Config struct {
	AppEnv      string        `yaml:"app_env" env:"APP_ENV" env-default:"prod"`
	HTTPAddr    string        `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`
	MetricsAddr string        `yaml:"metrics_addr" env:"METRICS_ADDR" env-default:""`
	MySQLDSN    string        `yaml:"-" env:"MYSQL_DSN" env-default:"root:root@tcp(localhost:3306)/reviews?parseTime=true&charset=utf8mb4&loc=UTC"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"CACHE_TTL" env-default:"15m"`

	Redis      RedisConfig      `yaml:"redis"`
	Apify      ApifyConfig      `yaml:"apify"`
	LLM        LLMConfig        `yaml:"llm"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

type RedisConfig struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Pass string `yaml:"-" env:"REDIS_PASSWORD" env-default:""`
	DB   int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type ApifyConfig struct {
	BaseURL           string `yaml:"base_url" env:"APIFY_BASE_URL" env-default:"https://api.apify.com/v2"`
	Token             string `yaml:"-" env:"APIFY_TOKEN"`
	GoogleActorID     string `yaml:"google_actor_id" env:"APIFY_GOOGLE_ACTOR" env-default:"Xb8osYTtOjlsgI6k9"`
	TrustpilotActorID string `yaml:"trustpilot_actor_id" env:"APIFY_TRUSTPILOT_ACTOR" env-default:"fLXimoyuhE1UQgDbM"`
	RPS               int    `yaml:"rps" env:"APIFY_RPS" env-default:"2"`
}

type LLMConfig struct {
	// Provider is one of gemini, compatible, openai, anthropic.
	Provider        string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"gemini"`
	Model           string  `yaml:"model" env:"LLM_MODEL" env-default:"gemini-2.5-flash"`
	BaseURL         string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	APIKey          string  `yaml:"-" env:"LLM_API_KEY"`
	RPS             float64 `yaml:"rps" env:"LLM_RPS" env-default:"2"`
	MaxRetries      int     `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"3"`
	MaxOutputTokens int     `yaml:"max_output_tokens" env:"LLM_MAX_OUTPUT_TOKENS" env-default:"8192"`
}

type PipelineConfig struct {
	UnifyBatchSize       int     `yaml:"unify_batch_size" env:"UNIFY_BATCH_SIZE" env-default:"1000"`
	StandardizeBatchSize int     `yaml:"standardize_batch_size" env:"STANDARDIZE_BATCH_SIZE" env-default:"500"`
	ProgressEvery        int     `yaml:"progress_every" env:"TRANSLATION_PROGRESS_EVERY" env-default:"50"`
	ScrapeWorkers        int     `yaml:"scrape_workers" env:"SCRAPE_WORKERS" env-default:"4"`
	PriorWeight          float64 `yaml:"prior_weight" env:"SCORING_PRIOR_WEIGHT" env-default:"100"`
	DefaultPrior         float64 `yaml:"default_prior" env:"SCORING_DEFAULT_PRIOR" env-default:"4.0"`
}

type EnrichmentConfig struct {
	BatchSize          int     `yaml:"batch_size" env:"ENRICH_BATCH_SIZE" env-default:"30"`
	SentimentChunkSize int     `yaml:"sentiment_batch_size" env:"ENRICH_SENTIMENT_CHUNK" env-default:"3"`
	MinReviewLength    int     `yaml:"min_review_length" env:"ENRICH_MIN_LENGTH" env-default:"10"`
	ContextWindow      int     `yaml:"context_window" env:"LLM_CONTEXT_WINDOW" env-default:"1000000"`
	BudgetRatio        float64 `yaml:"budget_ratio" env:"LLM_BUDGET_RATIO" env-default:"0.70"`
	CharsPerToken      int     `yaml:"chars_per_token" env:"LLM_CHARS_PER_TOKEN" env-default:"4"`

	// Entities restricts enrichment when no -entities flag is given.
	Entities []int64 `yaml:"target_entities"`

	Sentiment []Attribute `yaml:"sentiment_attributes"`
	Complaint []Attribute `yaml:"complaint_attribute"`
	Response  []Attribute `yaml:"response_attributes"`
}

type Attribute struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Requires    []string `yaml:"requires"`
	Enabled     *bool    `yaml:"enabled"`
}

func (a Attribute) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

// Load reads path when it exists, otherwise only the environment.
func Load(path string) (Config, error) {
	var c Config
	var err error
	if _, statErr := os.Stat(path); path != "" && statErr == nil {
		err = cleanenv.ReadConfig(path, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	c.applyDefaults()
	return c, c.Validate()
}

func (c *Config) applyDefaults() {
	if len(c.Enrichment.Sentiment) == 0 {
		c.Enrichment.Sentiment = DefaultSentimentAttributes()
	}
	if len(c.Enrichment.Complaint) == 0 {
		c.Enrichment.Complaint = []Attribute{
			{Name: domain.AttrIsComplaint, Description: "Does the review include any complaint?"},
		}
	}
	if len(c.Enrichment.Response) == 0 {
		c.Enrichment.Response = DefaultResponseAttributes()
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MySQLDSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN is empty"))
	}
	if c.Pipeline.UnifyBatchSize <= 0 || c.Pipeline.StandardizeBatchSize <= 0 {
		errs = append(errs, errors.New("writer batch sizes must be > 0"))
	}
	if c.Enrichment.BatchSize <= 0 || c.Enrichment.SentimentChunkSize <= 0 {
		errs = append(errs, errors.New("enrichment batch sizes must be > 0"))
	}
	if c.Enrichment.BudgetRatio <= 0 || c.Enrichment.BudgetRatio > 1 {
		errs = append(errs, errors.New("budget_ratio must be in (0,1]"))
	}
	if c.Enrichment.CharsPerToken <= 0 || c.Enrichment.ContextWindow <= 0 {
		errs = append(errs, errors.New("context_window and chars_per_token must be > 0"))
	}
	if c.Pipeline.PriorWeight < 0 {
		errs = append(errs, errors.New("prior_weight must be >= 0"))
	}
	seen := map[string]bool{}
	for _, group := range [][]Attribute{c.Enrichment.Sentiment, c.Enrichment.Complaint, c.Enrichment.Response} {
		for _, a := range group {
			if a.Name == "" {
				errs = append(errs, errors.New("attribute with empty name"))
				continue
			}
			if seen[a.Name] {
				errs = append(errs, fmt.Errorf("attribute %q declared twice", a.Name))
			}
			seen[a.Name] = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	return nil
}

// ValidateFor checks the collaborator credentials a stage needs.
func (c Config) ValidateFor(stage string) error {
	switch stage {
	case "scrape":
		if c.Apify.Token == "" {
			return fmt.Errorf("%w: APIFY_TOKEN is required for %s", domain.ErrConfig, stage)
		}
	case "standardize", "enrich":
		if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
			return fmt.Errorf("%w: LLM_API_KEY (or LLM_BASE_URL for a local endpoint) is required for %s", domain.ErrConfig, stage)
		}
	}
	return nil
}

// Enabled filters attrs down to the enabled ones, preserving order.
func Enabled(attrs []Attribute) []Attribute {
	out := make([]Attribute, 0, len(attrs))
	for _, a := range attrs {
		if a.IsEnabled() {
			out = append(out, a)
		}
	}
	return out
}
