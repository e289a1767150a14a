package sir

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Recorder is the subset of pkg/store.Store the lifecycle needs to persist
// SIR state — kept as an interface to avoid sir<->store import coupling and
// to let tests substitute an in-memory fake.
type Recorder interface {
	WriteSIRBlob(ctx context.Context, symbolID string, body []byte, sirHash string) (version int, err error)
	UpsertSIRMeta(ctx context.Context, meta MetaRecord) error
	GetSIRMeta(ctx context.Context, symbolID string) (MetaRecord, error)
}

// MetaRecord mirrors pkg/store.SIRMeta's shape, decoupled from the store
// package's concrete type for the same reason as Recorder above.
type MetaRecord struct {
	SymbolID    string
	Status      string
	RetryCount  int
	LastError   string
	GeneratedAt time.Time
	SourceHash  string
}

// Lifecycle runs a bounded worker pool (sir_concurrency, default small)
// that generates SIRs for enqueued symbols, applying the retry budget and
// the fresh/stale/failed status transitions.
type Lifecycle struct {
	provider    Provider
	recorder    Recorder
	retryBudget int
	log         *slog.Logger

	sem chan struct{}

	mu        sync.Mutex
	inflight  map[string]bool // symbol ids currently being generated, for single-flight coalescing
}

// New constructs a Lifecycle bounded to concurrency simultaneous
// generations.
func New(provider Provider, recorder Recorder, concurrency, retryBudget int, log *slog.Logger) *Lifecycle {
	if concurrency < 1 {
		concurrency = 1
	}

	if log == nil {
		log = slog.Default()
	}

	return &Lifecycle{
		provider:    provider,
		recorder:    recorder,
		retryBudget: retryBudget,
		log:         log,
		sem:         make(chan struct{}, concurrency),
		inflight:    make(map[string]bool),
	}
}

// GenerationRequest is one symbol's queued SIR generation.
type GenerationRequest struct {
	SymbolID    string
	Language    string
	Declaration string
	Body        string
	SourceHash  string // content hash the SIR was generated from, for staleness detection
}

// Generate runs the full generation pipeline for req: call the provider, validate,
// canonicalize, hash, and — on success — atomically write the blob and bump
// meta/history; on failure, increment the retry counter and transition to
// `failed` once the budget is exhausted. Concurrent requests for the same
// symbol id are coalesced: a second caller while one is inflight is a no-op
// that returns immediately.
func (l *Lifecycle) Generate(ctx context.Context, req GenerationRequest) error {
	if !l.claim(req.SymbolID) {
		return nil
	}
	defer l.release(req.SymbolID)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	result, err := l.provider.GenerateSIR(ctx, req.Language, req.Declaration, req.Body)
	if err != nil {
		return l.recordFailure(ctx, req, err)
	}

	if err := result.Validate(); err != nil {
		return l.recordFailure(ctx, req, err)
	}

	canon, err := Canonicalize(result)
	if err != nil {
		return l.recordFailure(ctx, req, err)
	}

	hash := Hash(canon)

	if _, err := l.recorder.WriteSIRBlob(ctx, req.SymbolID, canon, hash); err != nil {
		return fmt.Errorf("write sir blob for %s: %w", req.SymbolID, err)
	}

	meta := MetaRecord{
		SymbolID:    req.SymbolID,
		Status:      string(StatusFresh),
		RetryCount:  0,
		GeneratedAt: time.Now(),
		SourceHash:  req.SourceHash,
	}

	if err := l.recorder.UpsertSIRMeta(ctx, meta); err != nil {
		return fmt.Errorf("upsert sir meta for %s: %w", req.SymbolID, err)
	}

	return nil
}

func (l *Lifecycle) recordFailure(ctx context.Context, req GenerationRequest, genErr error) error {
	prior, err := l.recorder.GetSIRMeta(ctx, req.SymbolID)
	if err != nil && !errors.Is(err, context.Canceled) {
		prior = MetaRecord{SymbolID: req.SymbolID}
	}

	retryCount := prior.RetryCount + 1

	status := StatusStale
	if retryCount > l.retryBudget {
		status = StatusFailed
	}

	meta := MetaRecord{
		SymbolID:    req.SymbolID,
		Status:      string(status),
		RetryCount:  retryCount,
		LastError:   genErr.Error(),
		GeneratedAt: time.Now(),
		SourceHash:  req.SourceHash,
	}

	l.log.Warn("sir generation failed", "symbol_id", req.SymbolID, "status", status, "retry_count", retryCount, "error", genErr)

	if err := l.recorder.UpsertSIRMeta(ctx, meta); err != nil {
		return fmt.Errorf("upsert sir meta after failure for %s: %w", req.SymbolID, err)
	}

	return fmt.Errorf("generate sir for %s: %w", req.SymbolID, genErr)
}

func (l *Lifecycle) claim(symbolID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inflight[symbolID] {
		return false
	}

	l.inflight[symbolID] = true

	return true
}

func (l *Lifecycle) release(symbolID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inflight, symbolID)
}
