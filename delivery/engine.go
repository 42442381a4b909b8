package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/observability"
	"github.com/hookline/hookline/registration"
)

// EngineStore is the interface the engine needs for queue, event and
// registration operations. The composite store satisfies it.
type EngineStore interface {
	DequeueJobs(ctx context.Context, limit int) ([]*Job, error)
	Reschedule(ctx context.Context, j *Job) error
	RemoveJob(ctx context.Context, evtID id.ID) error

	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	MarkProcessing(ctx context.Context, evtID id.ID) error
	MarkCompleted(ctx context.Context, evtID id.ID, statusCode int, body string) error
	MarkFailed(ctx context.Context, evtID id.ID, errMsg string, attempts, statusCode int) error
	ScheduleRetry(ctx context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error

	GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error)
	SetRegistrationStatus(ctx context.Context, regID id.ID, status registration.Status) error
	IncrementFailureCount(ctx context.Context, regID id.ID) (int, error)
	ResetFailureCount(ctx context.Context, regID id.ID) error
	TouchDelivered(ctx context.Context, regID id.ID, at time.Time) error
}

// DLQPusher records permanently failed events in the dead letter queue.
type DLQPusher interface {
	PushFailed(ctx context.Context, j *Job, errMsg string, statusCode, attempts int) error
}

// Processor handles inbound jobs. Returning an error schedules a retry
// under the same policy as outbound deliveries.
type Processor func(ctx context.Context, j *Job) error

// Limiter throttles outbound sends. perSecond <= 0 means unlimited.
type Limiter interface {
	Allow(key string, perSecond int) bool
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	MaxRetries     int
	RetrySchedule  []time.Duration
	PauseThreshold int
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine is the worker pool that dequeues jobs and processes them: outbound
// jobs are sent over HTTP, inbound jobs run the configured processor.
type Engine struct {
	store     EngineStore
	sender    *Sender
	policy    *Policy
	dlq       DLQPusher
	limiter   Limiter
	processor Processor
	config    EngineConfig
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, dlq DLQPusher, limiter Limiter, processor Processor, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		sender:    NewSender(cfg.RequestTimeout),
		policy:    NewPolicy(cfg.RetrySchedule, cfg.MaxRetries),
		dlq:       dlq,
		limiter:   limiter,
		processor: processor,
		config:    cfg,
		logger:    logger,
	}
}

// Start begins the workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight jobs to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// pollLoop periodically dequeues due jobs and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.DequeueJobs(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, j := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(job *Job) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.process(ctx, job)
				}(j)
			}
		}
	}
}

// process handles a single job: claim the event, attempt it, decide, record.
func (e *Engine) process(ctx context.Context, j *Job) {
	evt, err := e.store.GetEvent(ctx, j.EventID)
	if err != nil {
		e.logger.ErrorContext(ctx, "get event failed", "event_id", j.EventID, "error", err)
		e.removeJob(ctx, j)
		return
	}

	if err := e.store.MarkProcessing(ctx, j.EventID); err != nil {
		// Event already claimed or in a terminal state.
		e.logger.DebugContext(ctx, "skip job", "event_id", j.EventID, "status", evt.Status, "error", err)
		e.removeJob(ctx, j)
		return
	}

	if j.Direction == event.DirectionInbound {
		e.processInbound(ctx, j, evt)
		return
	}
	e.processOutbound(ctx, j, evt)
}

// processInbound runs the configured processor for a provider callback.
func (e *Engine) processInbound(ctx context.Context, j *Job, evt *event.Event) {
	attempts := evt.AttemptCount + 1

	if e.processor == nil {
		// Nothing to run; the event is durably stored, mark it done.
		e.complete(ctx, j, Result{}, 0)
		return
	}

	runCtx := ctx
	if e.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	procErr := e.processor(runCtx, j)
	latency := time.Since(start).Milliseconds()

	if procErr == nil {
		e.complete(ctx, j, Result{LatencyMs: int(latency)}, attempts)
		return
	}

	res := Result{Error: procErr.Error(), LatencyMs: int(latency)}
	switch e.policy.Decide(res, attempts) {
	case Retry:
		e.scheduleRetry(ctx, j, res, attempts)
	default:
		e.fail(ctx, j, res, attempts)
	}
}

// processOutbound delivers an event to its registration's endpoint.
func (e *Engine) processOutbound(ctx context.Context, j *Job, evt *event.Event) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, j.EventID.String(), j.RegistrationID.String())
	}

	// The job carries the destination; the registration is fetched only for
	// the send-time pause re-check and the throttle settings.
	reg, err := e.store.GetRegistration(ctx, j.RegistrationID)
	if err != nil {
		res := Result{Error: fmt.Sprintf("registration unavailable: %v", err)}
		e.fail(ctx, j, res, evt.AttemptCount)
		e.endSpan(span, res)
		return
	}

	// Pause state is checked at send time, not enqueue time, so pausing
	// takes effect for jobs already queued.
	if !reg.Deliverable() {
		res := Result{Error: "destination paused"}
		e.fail(ctx, j, res, evt.AttemptCount)
		e.endSpan(span, res)
		return
	}

	if e.limiter != nil && reg.RateLimit > 0 && !e.limiter.Allow(reg.ID.String(), reg.RateLimit) {
		// Throttled, not failed: put the event back without burning an attempt.
		nextAt := time.Now().UTC().Add(time.Second)
		if err := e.store.ScheduleRetry(ctx, j.EventID, evt.AttemptCount, nextAt, "", 0); err != nil {
			e.logger.ErrorContext(ctx, "throttle reschedule failed", "event_id", j.EventID, "error", err)
		}
		j.NextAttemptAt = nextAt
		if err := e.store.Reschedule(ctx, j); err != nil {
			e.logger.ErrorContext(ctx, "reschedule job failed", "event_id", j.EventID, "error", err)
		}
		e.logger.DebugContext(ctx, "delivery throttled", "event_id", j.EventID, "registration_id", reg.ID)
		if span != nil {
			e.endSpan(span, Result{Error: "throttled"})
		}
		return
	}

	attempts := evt.AttemptCount + 1
	res := e.sender.Send(ctx, j)

	switch e.policy.Decide(res, attempts) {
	case Completed:
		e.complete(ctx, j, res, attempts)
		e.recordSuccess(ctx, reg)

	case Retry:
		// Retries do not touch the circuit breaker; only terminal failures
		// count against the registration.
		e.scheduleRetry(ctx, j, res, attempts)

	case Failed:
		e.fail(ctx, j, res, attempts)
		e.recordFailure(ctx, reg)
	}

	e.endSpan(span, res)
}

// complete marks the event delivered and drops its job.
func (e *Engine) complete(ctx context.Context, j *Job, res Result, attempts int) {
	if err := e.store.MarkCompleted(ctx, j.EventID, res.StatusCode, res.Response); err != nil {
		e.logger.ErrorContext(ctx, "mark completed failed", "event_id", j.EventID, "error", err)
	}
	e.removeJob(ctx, j)

	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("completed", float64(res.LatencyMs)/1000.0)
		e.config.Metrics.PendingJobs.Dec()
	}
	e.logger.DebugContext(ctx, "completed",
		"event_id", j.EventID, "status", res.StatusCode, "attempt", attempts, "latency_ms", res.LatencyMs)
}

// scheduleRetry puts the event back to pending with a backoff delay and
// re-queues its job for that time.
func (e *Engine) scheduleRetry(ctx context.Context, j *Job, res Result, attempts int) {
	nextAt := e.policy.NextAttempt(attempts)

	if err := e.store.ScheduleRetry(ctx, j.EventID, attempts, nextAt, errMessage(res), res.StatusCode); err != nil {
		e.logger.ErrorContext(ctx, "schedule retry failed", "event_id", j.EventID, "error", err)
	}
	j.NextAttemptAt = nextAt
	if err := e.store.Reschedule(ctx, j); err != nil {
		e.logger.ErrorContext(ctx, "reschedule job failed", "event_id", j.EventID, "error", err)
	}

	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("retried", float64(res.LatencyMs)/1000.0)
	}
	e.logger.DebugContext(ctx, "retry scheduled",
		"event_id", j.EventID, "attempt", attempts, "next_at", nextAt)
}

// fail marks the event permanently failed, pushes it to the DLQ and drops
// its job.
func (e *Engine) fail(ctx context.Context, j *Job, res Result, attempts int) {
	if err := e.store.MarkFailed(ctx, j.EventID, errMessage(res), attempts, res.StatusCode); err != nil {
		e.logger.ErrorContext(ctx, "mark failed failed", "event_id", j.EventID, "error", err)
	}
	if e.dlq != nil {
		if dlqErr := e.dlq.PushFailed(ctx, j, errMessage(res), res.StatusCode, attempts); dlqErr != nil {
			e.logger.ErrorContext(ctx, "push to DLQ failed", "event_id", j.EventID, "error", dlqErr)
		}
	}
	e.removeJob(ctx, j)

	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("failed", float64(res.LatencyMs)/1000.0)
		e.config.Metrics.PendingJobs.Dec()
		e.config.Metrics.DLQSize.Inc()
	}
	e.logger.WarnContext(ctx, "delivery failed permanently",
		"event_id", j.EventID, "status", res.StatusCode, "error", errMessage(res))
}

// recordSuccess resets the registration's consecutive-failure counter and
// records the delivery timestamp.
func (e *Engine) recordSuccess(ctx context.Context, reg *registration.Registration) {
	if err := e.store.ResetFailureCount(ctx, reg.ID); err != nil {
		e.logger.ErrorContext(ctx, "reset failure count failed", "registration_id", reg.ID, "error", err)
	}
	if err := e.store.TouchDelivered(ctx, reg.ID, time.Now().UTC()); err != nil {
		e.logger.ErrorContext(ctx, "touch delivered failed", "registration_id", reg.ID, "error", err)
	}
}

// recordFailure bumps the registration's consecutive-failure counter and
// pauses the registration when the circuit breaker threshold is reached.
func (e *Engine) recordFailure(ctx context.Context, reg *registration.Registration) {
	count, err := e.store.IncrementFailureCount(ctx, reg.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "increment failure count failed", "registration_id", reg.ID, "error", err)
		return
	}

	if e.config.PauseThreshold > 0 && count >= e.config.PauseThreshold {
		if err := e.store.SetRegistrationStatus(ctx, reg.ID, registration.StatusPaused); err != nil {
			e.logger.ErrorContext(ctx, "pause registration failed", "registration_id", reg.ID, "error", err)
			return
		}
		if e.config.Metrics != nil {
			e.config.Metrics.PausedEndpoints.Inc()
		}
		e.logger.WarnContext(ctx, "registration paused after consecutive failures",
			"registration_id", reg.ID, "failures", count)
	}
}

func (e *Engine) removeJob(ctx context.Context, j *Job) {
	if err := e.store.RemoveJob(ctx, j.EventID); err != nil {
		e.logger.ErrorContext(ctx, "remove job failed", "event_id", j.EventID, "error", err)
	}
}

func (e *Engine) endSpan(span trace.Span, res Result) {
	if span != nil {
		e.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, res.Error)
	}
}

// errMessage renders a human-readable failure reason from a result.
func errMessage(res Result) string {
	if res.Error != "" {
		return res.Error
	}
	if res.StatusCode != 0 {
		return fmt.Sprintf("endpoint returned status %d", res.StatusCode)
	}
	return ""
}
