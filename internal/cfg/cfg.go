package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Event transport modes for the agent consumer.
const (
	TransportPubSub = "pubsub"
	TransportPoll   = "poll"
)

// LLM provider selectors for the analysis engine.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	RedisURL              string
	EventChannel          string
	EventTransport        string
	PollIntervalSeconds   int
	LLMProvider           string
	OpenAIAPIKey          string
	OpenAIModel           string
	OpenAIEmbedModel      string
	AnthropicAPIKey       string
	AnthropicModel        string
	SlackBotToken         string
	SlackChannel          string
	SlackSigningSecret    string
	SimilarityThreshold   float64
	TopK                  int
	MaxPerKey             int
	RequestInfoStatus     string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis connection URL for event consumption")
	fs.StringVar(&c.EventChannel, "event-channel", "incident_ready", "Redis channel (or queue key suffix) carrying incident-ready events")
	fs.StringVar(&c.EventTransport, "event-transport", TransportPubSub, "event transport: pubsub or poll")
	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 1, "polling interval for the poll transport (1..60)")
	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderOpenAI, "analysis LLM provider: openai or claude")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI (completions and embeddings)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI chat model for incident analysis")
	fs.StringVar(&c.OpenAIEmbedModel, "openai-embed-model", "text-embedding-3-small", "OpenAI embedding model for similarity retrieval")
	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", "", "API key for the Claude provider")
	fs.StringVar(&c.AnthropicModel, "anthropic-model", "claude-sonnet-4-20250514", "Claude model for incident analysis")
	fs.StringVar(&c.SlackBotToken, "slack-bot-token", "", "Slack bot token for posting notifications")
	fs.StringVar(&c.SlackChannel, "slack-channel", "#incident-alerts", "fallback Slack channel for unrouted incidents")
	fs.StringVar(&c.SlackSigningSecret, "slack-signing-secret", "", "Slack signing secret for interactivity callback verification")
	fs.Float64Var(&c.SimilarityThreshold, "similarity-threshold", 0.7, "minimum cosine similarity for retrieval matches (0..1)")
	fs.IntVar(&c.TopK, "top-k", 3, "similar incidents retrieved per analysis (1..20)")
	fs.IntVar(&c.MaxPerKey, "max-per-key", 1, "retrieval matches allowed per diversity key (>=1)")
	fs.StringVar(&c.RequestInfoStatus, "request-info-status", "needs_info", "status applied when an operator requests more info: needs_info or open")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Redis is the only event source, so it is required
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.EventChannel == "" {
		errs = append(errs, errors.New("EVENT_CHANNEL is required"))
	}

	switch c.EventTransport {
	case TransportPubSub, TransportPoll:
	default:
		errs = append(errs, fmt.Errorf("invalid EVENT_TRANSPORT %q (must be %s or %s)", c.EventTransport, TransportPubSub, TransportPoll))
	}
	if c.PollIntervalSeconds <= 0 || c.PollIntervalSeconds > 60 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be 1..60)", c.PollIntervalSeconds))
	}

	// Embeddings always come from OpenAI, so its key is required for
	// either provider selection
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required"))
		}
	case ProviderClaude:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the claude provider"))
		}
		if c.AnthropicModel == "" {
			errs = append(errs, errors.New("ANTHROPIC_MODEL is required for the claude provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be %s or %s)", c.LLMProvider, ProviderOpenAI, ProviderClaude))
	}
	if c.OpenAIEmbedModel == "" {
		errs = append(errs, errors.New("OPENAI_EMBED_MODEL is required"))
	}

	// Slack delivery is the whole point of the service
	if c.SlackBotToken == "" {
		errs = append(errs, errors.New("SLACK_BOT_TOKEN is required"))
	}
	if c.SlackChannel == "" {
		errs = append(errs, errors.New("SLACK_CHANNEL is required"))
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid SIMILARITY_THRESHOLD %g (must be in (0,1])", c.SimilarityThreshold))
	}
	if c.TopK <= 0 || c.TopK > 20 {
		errs = append(errs, fmt.Errorf("invalid TOP_K %d (must be 1..20)", c.TopK))
	}
	if c.MaxPerKey <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PER_KEY %d (must be >=1)", c.MaxPerKey))
	}

	switch c.RequestInfoStatus {
	case "needs_info", "open":
	default:
		errs = append(errs, fmt.Errorf("invalid REQUEST_INFO_STATUS %q (must be needs_info or open)", c.RequestInfoStatus))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
