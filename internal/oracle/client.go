package oracle

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/alloybuild/alloy/internal/recipe"
)

// Model constants. The high-end model drives generation and review; the
// cheaper model handles mechanical rewrites like separation corrections.
//
// Environment overrides:
//   - ALLOY_MODEL: override the default model
//   - ALLOY_MODEL_SIMPLE: override the model for simple rewrites
const (
	ModelDefault = "claude-sonnet-4-5-20250929"
	ModelSimple  = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking ALLOY_MODEL first.
func GetDefaultModel() string {
	if model := os.Getenv("ALLOY_MODEL"); model != "" {
		return model
	}
	return ModelDefault
}

// GetSimpleModel returns the model for simple rewrites, checking
// ALLOY_MODEL_SIMPLE first.
func GetSimpleModel() string {
	if model := os.Getenv("ALLOY_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelSimple
}

// Client is the live Oracle backed by the Anthropic API. Every call goes
// through bounded retry with backoff, a circuit breaker, a concurrency
// semaphore, and a request rate limiter.
type Client struct {
	client      *anthropic.Client
	model       string
	simpleModel string
	retry       RetryConfig
	breaker     *circuitBreaker
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
}

// Compile-time check that Client implements Oracle
var _ Oracle = (*Client)(nil)

// Config holds oracle client configuration.
type Config struct {
	APIKey      string // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model       string // Default model (empty = GetDefaultModel())
	SimpleModel string // Model for simple rewrites (empty = GetSimpleModel())
	Retry       RetryConfig
}

// NewClient creates a live oracle client.
func NewClient(cfg *Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	simpleModel := cfg.SimpleModel
	if simpleModel == "" {
		simpleModel = GetSimpleModel()
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxRetries == 0 {
		retryCfg = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	c := &Client{
		client:      &client,
		model:       model,
		simpleModel: simpleModel,
		retry:       retryCfg,
		breaker:     newCircuitBreaker(retryCfg.FailureThreshold, retryCfg.SuccessThreshold, retryCfg.OpenTimeout),
	}
	if retryCfg.MaxConcurrentCalls > 0 {
		c.sem = semaphore.NewWeighted(int64(retryCfg.MaxConcurrentCalls))
	}
	if retryCfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(retryCfg.RequestsPerMinute/60.0), 1)
	}
	return c, nil
}

// complete sends a single prompt and returns the concatenated text
// content of the response.
func (c *Client) complete(ctx context.Context, operation, model, prompt string) (string, error) {
	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 16384,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// artifactResponse is the JSON shape every artifact-producing call
// returns: a map of relative path to file content.
type artifactResponse struct {
	Files map[string]string `json:"files"`
}

func (c *Client) completeArtifacts(ctx context.Context, operation, prompt string) (*ArtifactSet, error) {
	text, err := c.complete(ctx, operation, c.model, prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := parseJSON[artifactResponse](text, operation+" response")
	if err != nil {
		return nil, err
	}
	if len(parsed.Files) == 0 {
		return nil, fmt.Errorf("%s: response contained no files", operation)
	}
	return NewArtifactSet(parsed.Files), nil
}

// GenerateTests requests a test artifact set covering every MUST
// requirement's validation criteria plus edge and error cases.
func (c *Client) GenerateTests(ctx context.Context, reqs *recipe.RequirementSet, design *recipe.Design) (*ArtifactSet, error) {
	return c.completeArtifacts(ctx, "generate_tests", buildTestPrompt(reqs, design))
}

// GenerateImplementation requests an implementation artifact set against
// the fixed test set.
func (c *Client) GenerateImplementation(ctx context.Context, reqs *recipe.RequirementSet, design *recipe.Design, tests *ArtifactSet) (*ArtifactSet, error) {
	return c.completeArtifacts(ctx, "generate_implementation", buildImplementationPrompt(reqs, design, tests))
}

// Repair requests a patch constrained to the given failure report.
func (c *Client) Repair(ctx context.Context, set *ArtifactSet, report *FailureReport) (*ArtifactSet, error) {
	patch, err := c.completeArtifacts(ctx, "repair", buildRepairPrompt(set, report))
	if err != nil {
		return nil, err
	}
	// Repairs may return only the touched files
	return set.Merge(patch), nil
}

// Review requests a structured review of the artifact set.
func (c *Client) Review(ctx context.Context, set *ArtifactSet, reqs *recipe.RequirementSet) (*ReviewReport, error) {
	text, err := c.complete(ctx, "review", c.model, buildReviewPrompt(set, reqs))
	if err != nil {
		return nil, err
	}
	report, err := parseJSON[ReviewReport](text, "review response")
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ReviseForReview requests a revision constrained to the critical findings.
func (c *Client) ReviseForReview(ctx context.Context, set *ArtifactSet, critical []Finding) (*ArtifactSet, error) {
	patch, err := c.completeArtifacts(ctx, "revise_for_review", buildRevisionPrompt(set, critical))
	if err != nil {
		return nil, err
	}
	return set.Merge(patch), nil
}

// RewriteSeparation proposes corrected requirements/design texts. Uses
// the cheaper model: this is a mechanical rewrite, not deep reasoning.
func (c *Client) RewriteSeparation(ctx context.Context, requirements, design string, violations []string) (*CorrectedPair, error) {
	text, err := c.complete(ctx, "rewrite_separation", c.simpleModel, buildSeparationPrompt(requirements, design, violations))
	if err != nil {
		return nil, err
	}
	pair, err := parseJSON[CorrectedPair](text, "separation rewrite response")
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// ProposeDecomposition proposes child recipes for an over-complex recipe.
func (c *Client) ProposeDecomposition(ctx context.Context, r *recipe.Recipe, strategy string) (*DecompositionPlan, error) {
	text, err := c.complete(ctx, "propose_decomposition", c.model, buildDecompositionPrompt(r, strategy))
	if err != nil {
		return nil, err
	}
	plan, err := parseJSON[DecompositionPlan](text, "decomposition response")
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// BreakerState exposes the circuit breaker state for health checks.
func (c *Client) BreakerState() CircuitState {
	return c.breaker.State()
}
