// Package damage talks to the vehicle damage assessment service and keeps
// the latest report per claim.
package damage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/claimdesk/claimdesk/internal/platform/resilience"
)

// Angle names one of the four photos the model needs.
type Angle string

const (
	Front Angle = "front"
	Rear  Angle = "rear"
	Left  Angle = "left"
	Right Angle = "right"
)

// Angles lists the required photos in upload order.
func Angles() []Angle {
	return []Angle{Front, Rear, Left, Right}
}

var (
	// ErrMissingAngle is returned when a request lacks one of the four photos.
	ErrMissingAngle = errors.New("damage: missing image")
	// ErrServiceFailed wraps non-2xx answers from the service.
	ErrServiceFailed = errors.New("damage: assessment failed")
)

// Photo is one uploaded image.
type Photo struct {
	Filename string
	Data     []byte
}

// Request is a single assessment call.
type Request struct {
	Photos   map[Angle]Photo
	CarBrand string
	CarType  string
}

// Config configures the client.
type Config struct {
	URL           string
	Timeout       time.Duration
	RatePerMinute int
	Logger        *slog.Logger
}

// Client wraps interactions with the assessment API.
type Client struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.Breaker
	logger     *slog.Logger
}

// NewClient constructs a new client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	breakerCfg := resilience.DefaultBreakerConfig("damage-service")
	breakerCfg.Logger = logger
	breakerCfg.Permanent = func(err error) bool { return errors.Is(err, ErrMissingAngle) }
	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		breaker:    resilience.NewBreaker(breakerCfg),
		logger:     logger,
	}
}

// Assess uploads the four photos and decodes the report. Brand and type
// are normalized before sending.
func (c *Client) Assess(ctx context.Context, req Request) (*Report, error) {
	for _, angle := range Angles() {
		if len(req.Photos[angle].Data) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingAngle, angle)
		}
	}
	body, contentType, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("damage: rate limit: %w", err)
	}

	return resilience.Do(ctx, c.breaker, func(ctx context.Context) (*Report, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", contentType)
		httpReq.Header.Set("Accept", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("damage: post: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, fmt.Errorf("damage: read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: status %d: %s", ErrServiceFailed, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		var report Report
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("damage: decode report: %w", err)
		}
		c.logger.Info("damage: assessed",
			slog.String("brand", report.CarInfo.Brand),
			slog.Duration("elapsed", time.Since(start)))
		return &report, nil
	})
}

func encodeRequest(req Request) ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, angle := range Angles() {
		photo := req.Photos[angle]
		name := photo.Filename
		if name == "" {
			name = string(angle) + "_image.jpg"
		}
		part, err := writer.CreateFormFile(string(angle)+"_image", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(photo.Data); err != nil {
			return nil, "", err
		}
	}
	if err := writer.WriteField("car_brand", NormalizeBrand(req.CarBrand)); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("car_type", NormalizeType(req.CarType)); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}
