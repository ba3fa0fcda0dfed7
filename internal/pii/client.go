package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/doc-sentinel/internal/config"
	"github.com/raaihank/doc-sentinel/internal/logger"
	"github.com/raaihank/doc-sentinel/internal/metrics"
)

// Client calls the detection service over HTTP. It implements Detector.
type Client struct {
	http          *http.Client
	endpoint      string
	apiKey        string
	language      string
	minConfidence float64
	chunkSize     int
	maxRetries    int
	retryDelay    time.Duration
	limiter       *rate.Limiter
	cache         ResultCache
	met           *metrics.Metrics
	log           *logger.Logger
}

// NewClient builds a detection client from configuration. cache may be
// nil to disable result caching.
func NewClient(cfg config.DetectionConfig, cache ResultCache, met *metrics.Metrics, log *logger.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("detection endpoint not configured")
	}

	rps := cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimit.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		http:          &http.Client{Timeout: cfg.Timeout},
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:        cfg.APIKey,
		language:      cfg.Language,
		minConfidence: cfg.MinConfidence,
		chunkSize:     cfg.ChunkSize,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		cache:         cache,
		met:           met,
		log:           log.WithComponent("detection"),
	}, nil
}

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// AnalyzeText runs PII analysis over text. Long texts are split into
// chunks at word boundaries, analyzed separately and merged with entity
// offsets rebased onto the full text.
func (c *Client) AnalyzeText(ctx context.Context, text string) (*Result, error) {
	if c.cache != nil {
		if r, ok := c.cache.Get(ctx, text); ok {
			c.met.RecordDetection("cache_hit", 0)
			return r, nil
		}
	}

	chunks := splitChunks(text, c.chunkSize)
	if len(chunks) > 1 {
		c.log.Debug("analyzing in chunks",
			zap.Int("chunks", len(chunks)),
			zap.Int("chunk_size", c.chunkSize))
	}

	var entities []Entity
	redactedParts := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		res, err := c.analyzeChunk(ctx, ch.text)
		if err != nil {
			return nil, err
		}
		for _, ent := range res.Entities {
			ent.Offset += ch.runeOffset
			entities = append(entities, ent)
		}
		redactedParts = append(redactedParts, res.RedactedText)
	}

	entities = FilterByConfidence(entities, c.minConfidence)
	result := &Result{
		Entities:      entities,
		RedactedText:  strings.Join(redactedParts, " "),
		TotalEntities: len(entities),
		Summary:       SummarizeConfidence(entities),
	}

	if c.cache != nil {
		c.cache.Set(ctx, text, result)
	}
	return result, nil
}

// Detect implements Detector.
func (c *Client) Detect(ctx context.Context, text string) ([]Entity, error) {
	res, err := c.AnalyzeText(ctx, text)
	if err != nil {
		return nil, err
	}
	return res.Entities, nil
}

// AnalyzePDF uploads a PDF for server-side extraction and analysis. Used
// when detection.send_file is enabled and the detection service can parse
// documents itself.
func (c *Client) AnalyzePDF(ctx context.Context, filename string, file io.Reader) (*Result, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	var result Result
	err = c.withRetries(ctx, func() error {
		return c.do(ctx, "/analyze-pdf", bytes.NewReader(buf.Bytes()), mw.FormDataContentType(), &result)
	})
	if err != nil {
		return nil, err
	}

	result.Entities = FilterByConfidence(result.Entities, c.minConfidence)
	result.TotalEntities = len(result.Entities)
	result.Summary = SummarizeConfidence(result.Entities)
	return &result, nil
}

func (c *Client) analyzeChunk(ctx context.Context, text string) (*Result, error) {
	payload, err := json.Marshal(analyzeRequest{Text: text, Language: c.language})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var result Result
	err = c.withRetries(ctx, func() error {
		return c.do(ctx, "/analyze-text", bytes.NewReader(payload), "application/json", &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// do performs one attempt against the detection service.
func (c *Client) do(ctx context.Context, path string, body io.ReadSeeker, contentType string, out any) error {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind request body: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.met.RecordDetection("error", time.Since(start))
		return fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.met.RecordDetection("error", time.Since(start))
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &DetectionError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.met.RecordDetection("error", time.Since(start))
		return fmt.Errorf("decode response: %w", err)
	}
	c.met.RecordDetection("success", time.Since(start))
	return nil
}

// withRetries runs fn with linear backoff. Permanent detection errors and
// context cancellation stop immediately.
func (c *Client) withRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying detection call",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		var de *DetectionError
		if errors.As(lastErr, &de) && !de.Retryable() {
			return lastErr
		}
	}
	return fmt.Errorf("detection failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// chunk is a piece of the analyzed text along with its rune offset into
// the full text.
type chunk struct {
	text       string
	runeOffset int
}

// splitChunks splits text into pieces of at most size runes, breaking at
// the last space before the limit when one exists. The consumed space is
// not part of any chunk.
func splitChunks(text string, size int) []chunk {
	if size <= 0 || len(text) <= size {
		return []chunk{{text: text}}
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []chunk{{text: text}}
	}

	var chunks []chunk
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, chunk{text: string(runes[start:]), runeOffset: start})
			break
		}

		brk := -1
		for i := end; i > start; i-- {
			switch runes[i-1] {
			case ' ', '\n', '\t':
				brk = i
			}
			if brk >= 0 {
				break
			}
		}
		if brk < 0 {
			chunks = append(chunks, chunk{text: string(runes[start:end]), runeOffset: start})
			start = end
			continue
		}
		chunks = append(chunks, chunk{text: string(runes[start : brk-1]), runeOffset: start})
		start = brk
	}
	return chunks
}
