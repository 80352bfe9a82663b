// Package scorer implements the center's §4.8 Background Scorer: a
// deterministic weighted score plus an optional remote-reasoning-service
// augmented path, run by a small worker pool in the shape of the teacher's
// BulkWriter (a buffered job channel drained by a fixed number of workers),
// generalized from bulk ClickHouse writes to one-alert-at-a-time scoring
// jobs.
package scorer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netwatch/telemetry/alert"
	"github.com/netwatch/telemetry/store"
)

// sensitivePorts is the closed dest-port set from §4.8's context rule.
var sensitivePorts = map[int]bool{
	22: true, 23: true, 135: true, 139: true, 445: true, 1433: true, 3389: true,
}

// suspiciousPatterns is the regex list named generically in §4.8
// ("executable extensions, web-shell URL patterns, script-injection
// angle-brackets"); the concrete patterns are this implementation's choice.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(exe|dll|bat|cmd|scr|ps1|vbs)(\?|$)`),
	regexp.MustCompile(`(?i)/(cmd|shell|c99|r57|b374k)\.(php|jsp|asp|aspx)`),
	regexp.MustCompile(`[<>]`),
}

// ReasoningClient is the single typed adapter for the optional
// remote-reasoning-service path. A timeout and token cap are mandatory on
// every call (enforced by Scorer, not by the implementation).
type ReasoningClient interface {
	Score(ctx context.Context, a alert.Alert, maxTokens int) (threatScore, confidence float64, err error)
}

// Config controls the optional augmented path and the indicator sets the
// deterministic indicator term consults.
type Config struct {
	UseReasoningService bool
	ReasoningTimeout    time.Duration
	ReasoningMaxTokens  int

	KnownBadIPs       []string
	SuspiciousDomains []string

	Workers    int
	QueueDepth int
}

// Scorer is the center's background-scoring worker pool.
type Scorer struct {
	cfg       Config
	store     store.AlertStore
	reasoning ReasoningClient
	log       zerolog.Logger

	knownBadIPs       map[string]bool
	suspiciousDomains map[string]bool

	jobs chan string
	wg   sync.WaitGroup
}

// New constructs a Scorer. reasoning may be nil even when
// cfg.UseReasoningService is true; in that case the augmented path is
// skipped and scoring falls back to the deterministic path, the same way a
// parse/transport failure would.
func New(cfg Config, alertStore store.AlertStore, reasoning ReasoningClient, log zerolog.Logger) *Scorer {
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = 5 * time.Second
	}
	if cfg.ReasoningMaxTokens <= 0 {
		cfg.ReasoningMaxTokens = 512
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1000
	}

	badIPs := make(map[string]bool, len(cfg.KnownBadIPs))
	for _, ip := range cfg.KnownBadIPs {
		badIPs[ip] = true
	}
	domains := make(map[string]bool, len(cfg.SuspiciousDomains))
	for _, d := range cfg.SuspiciousDomains {
		domains[strings.ToLower(d)] = true
	}

	return &Scorer{
		cfg:               cfg,
		store:             alertStore,
		reasoning:         reasoning,
		log:               log,
		knownBadIPs:       badIPs,
		suspiciousDomains: domains,
		jobs:              make(chan string, cfg.QueueDepth),
	}
}

// Run starts the worker pool; it returns once ctx is canceled and every
// worker has drained its current job.
func (s *Scorer) Run(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	<-ctx.Done()
	close(s.jobs)
	s.wg.Wait()
}

func (s *Scorer) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.jobs:
			if !ok {
				return
			}
			if err := s.scoreOne(ctx, id); err != nil {
				s.log.Warn().Err(err).Str("alert_id", id).Msg("scoring failed")
			}
		}
	}
}

// Schedule enqueues an alert id for scoring without blocking the caller
// (ingest's contract never waits on this). A full queue drops the job; a
// scoring backlog is a monitoring concern per spec, not a delivery
// guarantee.
func (s *Scorer) Schedule(id string) {
	select {
	case s.jobs <- id:
	default:
		s.log.Warn().Str("alert_id", id).Msg("scorer queue full, dropping scoring job")
	}
}

// ScoreNow runs one alert's scoring synchronously, used directly by tests
// and by cmd/oracle's scoring pipeline.
func (s *Scorer) ScoreNow(ctx context.Context, id string) error {
	return s.scoreOne(ctx, id)
}

func (s *Scorer) scoreOne(ctx context.Context, id string) error {
	a, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("scorer: loading alert %s: %w", id, err)
	}
	if !ok {
		return nil
	}

	score := s.Deterministic(ctx, a)

	if s.cfg.UseReasoningService && s.reasoning != nil {
		augmented, ok := s.tryAugmented(ctx, a)
		if ok {
			score = augmented
		}
	}

	riskLevel := riskLevelForScore(score)
	return s.store.UpdateScoring(ctx, id, score, riskLevel, a.Correlations)
}

// tryAugmented calls the reasoning service under the mandatory timeout and
// token cap; any transport or parse failure falls through to the
// deterministic path (§4.8).
func (s *Scorer) tryAugmented(ctx context.Context, a alert.Alert) (float64, bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ReasoningTimeout)
	defer cancel()

	threatScore, confidence, err := s.reasoning.Score(callCtx, a, s.cfg.ReasoningMaxTokens)
	if err != nil {
		s.log.Warn().Err(err).Str("alert_id", a.ID).Msg("reasoning service unavailable, falling back to deterministic score")
		return 0, false
	}
	final := clamp01(threatScore * confidence)
	return final, true
}

// Deterministic computes the §4.8 weighted score.
func (s *Scorer) Deterministic(ctx context.Context, a alert.Alert) float64 {
	base := s.base(a)
	contextScore := s.contextScore(a)
	historical := s.historical(ctx, a)
	indicator := s.indicator(a)

	final := 0.3*base + 0.3*contextScore + 0.2*historical + 0.2*indicator
	return clamp01(final)
}

func (s *Scorer) base(a alert.Alert) float64 {
	sevW := alert.SeverityWeight[a.Severity]
	typeW := alert.TypeWeight[a.Type]
	return (sevW + typeW) / 2
}

func (s *Scorer) contextScore(a alert.Alert) float64 {
	var c float64
	if a.NetworkContext.ConnectionCount > 100 {
		c += 0.3
	}
	if sensitivePorts[a.NetworkContext.DstPort] {
		c += 0.2
	}
	if a.NetworkContext.ExternalConnection {
		c += 0.2
	}
	if bytesTransferred(a) > 1_000_000 {
		c += 0.2
	}
	if failedAuth(a) > 5 {
		c += 0.3
	}
	return c
}

func bytesTransferred(a alert.Alert) float64 {
	return numericField(a.RawData, "bytes_transferred")
}

func failedAuth(a alert.Alert) float64 {
	return numericField(a.RawData, "failed_auth")
}

func numericField(raw map[string]any, key string) float64 {
	v, ok := raw[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// historical counts same-type alerts in the trailing 24 hours, per §4.8's
// bucketed historical term.
func (s *Scorer) historical(ctx context.Context, a alert.Alert) float64 {
	since := a.OriginalTimestamp.Add(-24 * time.Hour)
	results, err := s.store.Query(ctx, store.QueryFilter{Since: since, Until: a.OriginalTimestamp, Type: a.Type})
	if err != nil {
		return 0.2
	}
	count := 0
	for _, r := range results {
		if r.ID != a.ID {
			count++
		}
	}
	switch {
	case count >= 10:
		return 0.8
	case count >= 5:
		return 0.6
	case count >= 2:
		return 0.4
	default:
		return 0.2
	}
}

func (s *Scorer) indicator(a alert.Alert) float64 {
	var total float64
	for _, ind := range a.Indicators {
		if s.knownBadIPs[ind] {
			total += 0.4
			continue
		}
		if s.suspiciousDomains[strings.ToLower(ind)] {
			total += 0.3
			continue
		}
		for _, p := range suspiciousPatterns {
			if p.MatchString(ind) {
				total += 0.2
				break
			}
		}
	}
	return total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// riskLevelForScore buckets the final score into the same four-way severity
// vocabulary alerts already use, so scored alerts and raw-severity alerts
// read consistently in analytics.
func riskLevelForScore(score float64) string {
	switch {
	case score >= 0.85:
		return string(alert.SeverityCritical)
	case score >= 0.6:
		return string(alert.SeverityHigh)
	case score >= 0.3:
		return string(alert.SeverityMedium)
	default:
		return string(alert.SeverityLow)
	}
}
