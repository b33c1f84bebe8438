package trivia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
)

const (
	DefaultBaseURL = "https://opentdb.com"
	userAgent      = "TriviaQuiz/1.0"
	requestTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20

	// Open Trivia DB allows one request per IP every five seconds.
	DefaultRequestInterval = 5 * time.Second

	DefaultAmount = 5
	MaxAmount     = 50

	categoriesCacheKey = "trivia:categories"
	categoriesTTL      = 24 * time.Hour
)

// Open Trivia DB response codes.
const (
	responseSuccess     = 0
	responseRateLimited = 5
)

var (
	Difficulties = []string{"easy", "medium", "hard"}
	Types        = []string{"multiple", "boolean"}
)

// Question is a question as served by Open Trivia DB.
type Question struct {
	Type             string   `json:"type"`
	Difficulty       string   `json:"difficulty"`
	Category         string   `json:"category"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type CategoriesResponse struct {
	TriviaCategories []Category `json:"trivia_categories"`
}

type questionsResponse struct {
	ResponseCode int        `json:"response_code"`
	Results      []Question `json:"results"`
}

// Query selects questions. Zero values mean "any".
type Query struct {
	Amount     int
	Category   int
	Difficulty string
	Type       string
}

// Cache is the subset of the shared cache the client uses.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Client provides access to the Open Trivia DB API
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *apperrors.RetryConfig
	cache      Cache
	metrics    *metrics.Metrics
	log        *logger.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCache enables caching of the category list.
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithRetryConfig(cfg *apperrors.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithRequestInterval sets the minimum spacing between upstream requests.
// Zero or less disables spacing.
func WithRequestInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Every(DefaultRequestInterval), 1),
		retry:      apperrors.TriviaRetryConfig(),
		metrics:    metrics.Default(),
		log:        logger.Default().WithComponent("trivia"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseQuery reads amount, category, difficulty and type from query
// parameters. Amount defaults to DefaultAmount and is clamped to 1..MaxAmount.
func ParseQuery(values url.Values) (Query, error) {
	q := Query{Amount: DefaultAmount}

	if raw := values.Get("amount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, apperrors.BadRequest("amount must be a number")
		}
		q.Amount = min(max(n, 1), MaxAmount)
	}

	if raw := values.Get("category"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, apperrors.BadRequest("category must be a positive number")
		}
		q.Category = n
	}

	q.Difficulty = strings.ToLower(strings.TrimSpace(values.Get("difficulty")))
	if q.Difficulty != "" && !ValidDifficulty(q.Difficulty) {
		return q, apperrors.BadRequest("difficulty must be one of " + strings.Join(Difficulties, ", "))
	}

	q.Type = strings.ToLower(strings.TrimSpace(values.Get("type")))
	if q.Type != "" && !ValidType(q.Type) {
		return q, apperrors.BadRequest("type must be one of " + strings.Join(Types, ", "))
	}

	return q, nil
}

func ValidDifficulty(s string) bool {
	return contains(Difficulties, s)
}

func ValidType(s string) bool {
	return contains(Types, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("amount", strconv.Itoa(q.Amount))
	if q.Category > 0 {
		v.Set("category", strconv.Itoa(q.Category))
	}
	if q.Difficulty != "" {
		v.Set("difficulty", q.Difficulty)
	}
	if q.Type != "" {
		v.Set("type", q.Type)
	}
	return v
}

// Questions fetches a batch of questions.
func (c *Client) Questions(ctx context.Context, q Query) ([]Question, error) {
	if q.Amount == 0 {
		q.Amount = DefaultAmount
	}
	endpoint := c.baseURL + "/api.php?" + q.values().Encode()

	var resp questionsResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	switch resp.ResponseCode {
	case responseSuccess:
		c.metrics.RecordTriviaCall("ok")
		return resp.Results, nil
	case responseRateLimited:
		c.metrics.RecordTriviaCall("rate_limited")
		return nil, apperrors.RateLimited()
	default:
		c.metrics.RecordTriviaCall("empty")
		return nil, apperrors.New(apperrors.CodeNotFound, "no questions found", apperrors.CategoryClient, http.StatusNotFound).
			WithDetails(map[string]any{"response_code": resp.ResponseCode})
	}
}

// Categories returns the category list, from cache when available.
func (c *Client) Categories(ctx context.Context) (*CategoriesResponse, error) {
	var resp CategoriesResponse
	if c.cache != nil && c.cache.GetJSON(ctx, categoriesCacheKey, &resp) {
		return &resp, nil
	}

	if err := c.getJSON(ctx, c.baseURL+"/api_category.php", &resp); err != nil {
		return nil, err
	}
	c.metrics.RecordTriviaCall("ok")

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, categoriesCacheKey, resp, categoriesTTL); err != nil {
			c.log.Warn(ctx, "failed to cache trivia categories", map[string]interface{}{"error": err.Error()})
		}
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, dst any) error {
	body, err := apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, endpoint)
	})
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			if errors.Is(err, context.DeadlineExceeded) {
				err = apperrors.ExternalTimeout("trivia service").WithCause(err)
			} else {
				err = apperrors.TriviaError("trivia service unavailable").WithCause(err)
			}
		}
		c.metrics.RecordTriviaCall("error")
		c.log.Error(ctx, "trivia request failed", map[string]interface{}{"endpoint": endpoint}, err)
		return err
	}

	if err := json.Unmarshal(body, dst); err != nil {
		c.metrics.RecordTriviaCall("error")
		return apperrors.TriviaError("invalid response from trivia service").WithCause(err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, apperrors.ExternalTimeout("trivia service").WithCause(err)
		}
		return nil, apperrors.TriviaError("trivia service unavailable").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.RateLimited()
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.TriviaError(fmt.Sprintf("trivia service returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.TriviaError("failed to read trivia response").WithCause(err)
	}
	return body, nil
}
