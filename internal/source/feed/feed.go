// Package feed adapts an HTTP listing feed into a pipeline source.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/immotrace/contact-pipeline/internal/contact"
)

// Config drives the feed collector.
type Config struct {
	Name           string
	FeedURL        string
	UserAgent      string
	RequestTimeout time.Duration
	PageSize       int
}

const (
	defaultUserAgent = "contact-pipeline/1.0"
	defaultTimeout   = 20 * time.Second
	defaultPageSize  = 100
)

// Source pulls paginated listing batches from an upstream feed endpoint.
// The feed returns a JSON document with the listings and an opaque cursor
// that the next call echoes back.
type Source struct {
	cfg       Config
	collector *colly.Collector
	logger    *zap.Logger

	mu     sync.Mutex
	cursor string
	done   bool
}

type feedResponse struct {
	Listings   []feedListing `json:"listings"`
	NextCursor string        `json:"next_cursor"`
}

type feedListing struct {
	ID           string    `json:"id"`
	BodyText     string    `json:"body_text"`
	HTMLFragment string    `json:"html_fragment"`
	ImageRefs    []string  `json:"image_refs"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// New constructs a feed source.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if _, err := url.ParseRequestURI(cfg.FeedURL); err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.RequestTimeout)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          32,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})

	return &Source{cfg: cfg, collector: base, logger: logger}, nil
}

// Name implements contact.Source.
func (s *Source) Name() string { return s.cfg.Name }

// FetchBatch requests the next feed page. Transport failures are wrapped in
// contact.TransportError so the runner can decide on retries.
func (s *Source) FetchBatch(ctx context.Context) ([]contact.RawListing, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil, nil
	}
	cursor := s.cursor
	s.mu.Unlock()

	body, err := s.fetch(ctx, cursor)
	if err != nil {
		return nil, err
	}

	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode feed page: %w", err)
	}

	s.mu.Lock()
	s.cursor = resp.NextCursor
	s.done = resp.NextCursor == ""
	s.mu.Unlock()

	listings := make([]contact.RawListing, 0, len(resp.Listings))
	for _, item := range resp.Listings {
		if item.ID == "" {
			s.logger.Debug("skipping feed listing without id",
				zap.String("source", s.cfg.Name))
			continue
		}
		discoveredAt := item.DiscoveredAt
		if discoveredAt.IsZero() {
			discoveredAt = time.Now().UTC()
		}
		listings = append(listings, contact.RawListing{
			ID:           item.ID,
			SourceName:   s.cfg.Name,
			BodyText:     item.BodyText,
			HTMLFragment: item.HTMLFragment,
			ImageRefs:    item.ImageRefs,
			DiscoveredAt: discoveredAt,
		})
	}
	return listings, nil
}

func (s *Source) fetch(ctx context.Context, cursor string) ([]byte, error) {
	target, err := s.pageURL(cursor)
	if err != nil {
		return nil, err
	}

	collector := s.collector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{body: append([]byte(nil), r.Body...)})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown collector error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: &contact.TransportError{StatusCode: status, Err: err}})
	})

	// On HTTP error responses Visit returns the status error itself, but
	// OnError has already queued a status-coded TransportError. The once
	// guard makes this a fallback for pre-request failures only.
	if err := collector.Visit(target); err != nil {
		send(fetchResult{err: &contact.TransportError{Err: err}})
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return res.body, res.err
	default:
		return nil, &contact.TransportError{Err: errors.New("feed fetch produced no result")}
	}
}

func (s *Source) pageURL(cursor string) (string, error) {
	u, err := url.Parse(s.cfg.FeedURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", s.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type fetchResult struct {
	body []byte
	err  error
}
