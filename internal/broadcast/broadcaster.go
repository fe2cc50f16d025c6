package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/events"
)

// Config bounds request validation for the broadcaster and names the
// completion topic.
type Config struct {
	MaxContentLength int
	CompletionTopic  string
}

// Broadcaster fans one validated PostRequest out to the requested platform
// clients, one goroutine per target, and gathers every outcome. Siblings are
// never canceled on a first failure; the broadcast completes when every
// platform has answered.
type Broadcaster struct {
	posters   map[Target]Poster
	limiter   Limiter
	emitter   events.Emitter
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// New wires a Broadcaster. Every known target should be covered by a poster;
// platforms without credentials register their disabled variant so targeting
// them still yields exactly one result. Limiter and publisher may be nil.
func New(
	posters []Poster,
	limiter Limiter,
	emitter events.Emitter,
	publisher Publisher,
	ids IDGenerator,
	clock Clock,
	cfg Config,
	logger *zap.Logger,
) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	byTarget := make(map[Target]Poster, len(posters))
	for _, p := range posters {
		if p != nil {
			byTarget[p.Target()] = p
		}
	}
	return &Broadcaster{
		posters:   byTarget,
		limiter:   limiter,
		emitter:   emitter,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Broadcast validates the request once, fans it out to every requested
// platform concurrently, and returns one result per distinct target in
// request order. The returned error is non-nil only for request-level
// validation problems; per-platform failures live inside the composite.
func (b *Broadcaster) Broadcast(ctx context.Context, req PostRequest) (CompositeResult, error) {
	if req.CleanupHTML {
		req.Content = CleanHTML(req.Content)
	}
	if err := req.Validate(b.cfg.MaxContentLength); err != nil {
		return CompositeResult{}, err
	}
	targets, err := NormalizeTargets(req.Targets)
	if err != nil {
		return CompositeResult{}, err
	}
	raw, err := b.ids.NewRawID()
	if err != nil {
		return CompositeResult{}, fmt.Errorf("new broadcast id: %w", err)
	}
	id := events.UUIDToBytes(raw)
	start := b.now()
	b.emit(events.Event{
		BroadcastID: id,
		TS:          start,
		Stage:       events.StageBroadcastStart,
		Note:        fmt.Sprintf("%d targets", len(targets)),
	})

	results := make([]PlatformResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(slot int, target Target) {
			defer wg.Done()
			results[slot] = b.post(ctx, id, target, req)
		}(i, target)
	}
	wg.Wait()

	composite := CompositeResult{BroadcastID: raw.String(), Results: results}
	b.emit(events.Event{
		BroadcastID: id,
		TS:          b.now(),
		Stage:       events.StageBroadcastDone,
		StatusClass: events.ClassifyStatus(composite.StatusCode()),
		Dur:         b.now().Sub(start),
	})
	if composite.Failed() {
		b.logger.Warn("broadcast finished with failures",
			zap.String("broadcast_id", composite.BroadcastID),
			zap.Int("status", composite.StatusCode()),
			zap.Error(composite.Err()),
		)
	} else {
		b.logger.Info("broadcast finished",
			zap.String("broadcast_id", composite.BroadcastID),
			zap.Int("targets", len(targets)),
		)
	}
	b.announce(ctx, composite)
	return composite, nil
}

// announce publishes the completion summary. Publish failures never fail the
// broadcast; the posts already landed.
func (b *Broadcaster) announce(ctx context.Context, composite CompositeResult) {
	if b.publisher == nil {
		return
	}
	summary := composite.Summary(b.now())
	if _, err := b.publisher.Publish(ctx, b.cfg.CompletionTopic, summary); err != nil {
		b.logger.Warn("completion publish failed",
			zap.String("broadcast_id", composite.BroadcastID),
			zap.Error(err),
		)
	}
}

// Post delivers to a single platform. The request's own target list is
// ignored so the single-platform route shares the broadcast path.
func (b *Broadcaster) Post(ctx context.Context, target Target, req PostRequest) (CompositeResult, error) {
	req.Targets = []string{string(target)}
	return b.Broadcast(ctx, req)
}

func (b *Broadcaster) post(ctx context.Context, id [16]byte, target Target, req PostRequest) (result PlatformResult) {
	result.Target = target
	start := b.now()
	defer func() {
		if rec := recover(); rec != nil {
			result.Response = nil
			result.Err = &CaughtError{Platform: target, Err: fmt.Errorf("panic: %v", rec)}
			b.finish(id, target, start, result)
		}
	}()

	poster, ok := b.posters[target]
	if !ok {
		result.Err = &ValidationError{Platform: target, Reason: "no client registered"}
		b.finish(id, target, start, result)
		return result
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx, string(target)); err != nil {
			result.Err = &CaughtError{Platform: target, Err: fmt.Errorf("rate limit wait: %w", err)}
			b.finish(id, target, start, result)
			return result
		}
	}
	b.emit(events.Event{
		BroadcastID: id,
		TS:          start,
		Stage:       events.StagePostStart,
		Target:      string(target),
	})

	resp, err := poster.CreatePost(ctx, req)
	if err != nil {
		result.Err = Classify(target, err)
	} else {
		resp.Module = target
		result.Response = &resp
	}
	b.finish(id, target, start, result)
	return result
}

func (b *Broadcaster) finish(id [16]byte, target Target, start time.Time, result PlatformResult) {
	dur := b.now().Sub(start)
	if result.Succeeded() {
		b.emit(events.Event{
			BroadcastID: id,
			TS:          b.now(),
			Stage:       events.StagePostDone,
			Target:      string(target),
			StatusClass: events.Status2xx,
			Dur:         dur,
		})
		b.logger.Debug("platform post succeeded",
			zap.String("target", string(target)),
			zap.String("uri", result.Response.URI),
			zap.Duration("dur", dur),
		)
		return
	}
	apiErr := Classify(target, result.Err)
	b.emit(events.Event{
		BroadcastID: id,
		TS:          b.now(),
		Stage:       events.StagePostError,
		Target:      string(target),
		StatusClass: events.ClassifyStatus(apiErr.StatusCode()),
		Dur:         dur,
		Note:        apiErr.Error(),
	})
	b.logger.Warn("platform post failed",
		zap.String("target", string(target)),
		zap.Int("status", apiErr.StatusCode()),
		zap.Duration("dur", dur),
		zap.Error(apiErr),
	)
}

func (b *Broadcaster) now() time.Time {
	if b.clock != nil {
		return b.clock.Now()
	}
	return time.Now().UTC()
}

func (b *Broadcaster) emit(evt events.Event) {
	if b.emitter != nil {
		b.emitter.Emit(evt)
	}
}
