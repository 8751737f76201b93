package oracle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecorewards-engine/pkg/config"
	"ecorewards-engine/pkg/errutil"
	"ecorewards-engine/services/category"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("oracle",
	fx.Provide(Provide),
)

var (
	oracleRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ecorewards_oracle_requests_total",
		Help: "Scoring oracle calls by result.",
	}, []string{"result"})
	oracleLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ecorewards_oracle_request_duration_seconds",
		Help:    "Scoring oracle call latency.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	})
)

func init() {
	prometheus.MustRegister(oracleRequests, oracleLatency)
}

// Oracle scores media evidence for a claimed action. Any failure to obtain a
// usable score is returned as an error wrapping ErrOracleFailure. Invalid
// input is rejected with a BadRequest before any network call.
type Oracle interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)
}

type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

type client struct {
	http    *resty.Client
	opts    Options
	prompts *category.Prompts
}

type Params struct {
	fx.In
	Config  *config.Config
	Prompts *category.Prompts
}

func Provide(p Params) Oracle {
	return New(Options{
		BaseURL:     p.Config.Oracle.BaseURL,
		APIKey:      p.Config.Oracle.APIKey,
		Model:       p.Config.Oracle.Model,
		Timeout:     p.Config.Oracle.Timeout,
		Temperature: p.Config.Oracle.Temperature,
	}, p.Prompts)
}

func New(opts Options, prompts *category.Prompts) Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
			SetHeader("Content-Type", "application/json"),
		opts:    opts,
		prompts: prompts,
	}
}

func (c *client) validate(req Request) error {
	if len(req.Media) == 0 {
		return errutil.BadRequest("media is required", nil)
	}
	if !IsSupportedMimeType(req.MimeType) {
		return errutil.BadRequest(fmt.Sprintf("unsupported media type %q", req.MimeType), nil)
	}
	if !req.Category.IsValid() {
		return errutil.BadRequest(fmt.Sprintf("unknown category %q", req.Category), nil)
	}
	return nil
}

func (c *client) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	prompt, err := c.prompts.Render(category.PromptData{
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Note:        req.Note,
	})
	if err != nil {
		return nil, fail(KindPrompt, "render prompt: %v", err)
	}

	start := time.Now()
	analysis, err := c.call(ctx, prompt, req)
	oracleLatency.Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.String("category", req.Category.String()),
		zap.String("model", c.opts.Model),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		oracleRequests.WithLabelValues(resultLabel(err)).Inc()
		zap.L().Warn("oracle call failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	oracleRequests.WithLabelValues("ok").Inc()
	zap.L().Debug("oracle call succeeded", append(fields, zap.Int("score", analysis.Score))...)
	return analysis, nil
}

func (c *client) call(ctx context.Context, prompt string, req Request) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{
					MimeType: req.MimeType,
					Data:     base64.StdEncoding.EncodeToString(req.Media),
				}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      c.opts.Temperature,
			ResponseMimeType: "application/json",
		},
	}

	var out generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.opts.APIKey).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", c.opts.Model))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fail(KindTimeout, "no response within %s", c.opts.Timeout)
		}
		return nil, fail(KindTransport, "%v", err)
	}
	if resp.IsError() {
		return nil, fail(KindHTTP, "status %d", resp.StatusCode())
	}

	text := firstCandidateText(out)
	if text == "" {
		return nil, fail(KindEmpty, "no candidate text")
	}

	return parseAnalysis(text)
}

func firstCandidateText(resp generateResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

func resultLabel(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return "error"
}
