package insurerapi

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/zatekoja/insurance-eligibility/backend/internal/infrastructure/observability"
	"github.com/zatekoja/insurance-eligibility/backend/pkg/config"
)

// Client performs exactly one signed insurer call per invocation.
// Validation failures are returned as errors; every other problem is an
// APIFailure outcome.
type Client interface {
	CheckEligibilityByCard(ctx context.Context, cardNumber string, asOfDate time.Time) (*Outcome, error)
	CheckEligibilityByNationalID(ctx context.Context, nationalID string, asOfDate time.Time) (*Outcome, error)
}

const (
	pathByCard       = "/Peserta/nokartu/{number}/tglSEP/{date}"
	pathByNationalID = "/Peserta/nik/{number}/tglSEP/{date}"
)

// HTTPClient talks to the insurer over resty
type HTTPClient struct {
	rest       *resty.Client
	signer     *Signer
	classifier *Classifier
	now        func() time.Time
	loc        *time.Location
	metrics    *observability.Metrics
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithClock replaces time.Now for signing and date validation
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) {
		c.now = now
	}
}

// WithMetrics records per-call durations
func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *HTTPClient) {
		c.metrics = metrics
	}
}

// NewClient creates an insurer client. Retries are left to RetryingClient so
// that every attempt is signed again.
func NewClient(cfg *config.InsurerConfig, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		classifier: NewClassifier(cfg.IneligibleCodes),
		now:        time.Now,
		loc:        cfg.Location(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.signer = NewSigner(cfg.ConsumerID, cfg.ConsumerSecret, cfg.UserKey, c.now)
	c.rest = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetLogger(restyLogger{logger: observability.GetLogger()}).
		SetHeader("Accept", "application/json")

	return c
}

// Location is the time zone calendar dates are judged in
func (c *HTTPClient) Location() *time.Location {
	return c.loc
}

// Classifier exposes the response classifier so cached bodies are read the same way
func (c *HTTPClient) Classifier() *Classifier {
	return c.classifier
}

func (c *HTTPClient) CheckEligibilityByCard(ctx context.Context, cardNumber string, asOfDate time.Time) (*Outcome, error) {
	if err := ValidateCardNumber(cardNumber); err != nil {
		return nil, err
	}
	if err := ValidateAsOfDate(asOfDate, c.now(), c.loc); err != nil {
		return nil, err
	}
	return c.lookup(ctx, "card", pathByCard, cardNumber, asOfDate), nil
}

func (c *HTTPClient) CheckEligibilityByNationalID(ctx context.Context, nationalID string, asOfDate time.Time) (*Outcome, error) {
	if err := ValidateNationalID(nationalID); err != nil {
		return nil, err
	}
	if err := ValidateAsOfDate(asOfDate, c.now(), c.loc); err != nil {
		return nil, err
	}
	return c.lookup(ctx, "national_id", pathByNationalID, nationalID, asOfDate), nil
}

func (c *HTTPClient) lookup(ctx context.Context, operation, path, number string, asOfDate time.Time) *Outcome {
	ctx, span := observability.StartSpan(ctx, "insurer."+operation)
	defer span.End()

	start := time.Now()
	outcome := c.do(ctx, path, number, asOfDate)
	observability.RecordInsurerCall(ctx, c.metrics, operation, string(outcome.Kind), time.Since(start))

	logger := observability.LoggerFromContext(ctx)
	logger.Debug().
		Str("operation", operation).
		Str("search_value", observability.MaskIdentifier(number)).
		Str("outcome", string(outcome.Kind)).
		Str("error_code", outcome.ErrorCode).
		Dur("duration", time.Since(start)).
		Msg("insurer call finished")

	return outcome
}

func (c *HTTPClient) do(ctx context.Context, path, number string, asOfDate time.Time) *Outcome {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers()).
		SetPathParams(map[string]string{
			"number": number,
			"date":   asOfDate.Format(DateLayout),
		}).
		Get(path)
	if err != nil {
		return transportFailure(ctx, err)
	}
	return c.classifier.Classify(resp.StatusCode(), resp.Body())
}

func transportFailure(ctx context.Context, err error) *Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return Failure(ErrCodeCanceled, "verification was canceled by the caller")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Failure(ErrCodeTimeout, "insurer did not respond in time")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure(ErrCodeTimeout, "insurer did not respond in time")
	}
	return Failure(ErrCodeNetwork, "insurer is unreachable")
}

// restyLogger routes resty's internal messages through zerolog
type restyLogger struct {
	logger *zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(strings.TrimSpace(format), v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(strings.TrimSpace(format), v...)
}
