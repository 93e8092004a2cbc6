package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/agentprovision/agentprovision/internal/config"
	"github.com/agentprovision/agentprovision/internal/db/store"
	"github.com/agentprovision/agentprovision/internal/failure"
	"github.com/agentprovision/agentprovision/internal/prune"
	"github.com/agentprovision/agentprovision/internal/tasks"
	"github.com/agentprovision/agentprovision/internal/telemetry"
	"github.com/agentprovision/agentprovision/internal/traces"
)

const (
	maxResponseBytes = 1 << 20
	maxTracedBody    = 4 << 10
	credentialHeader = "X-Skill-Credential-"
)

// Credentials decrypts tenant credentials. Only the router holds one.
type Credentials interface {
	Fetch(ctx context.Context, tenantID, skillConfigID uuid.UUID, key string) (string, error)
}

// TaskControl lets the router tie a dispatch to its task.
type TaskControl interface {
	Track(ctx context.Context, taskID uuid.UUID) (context.Context, func())
	Fail(ctx context.Context, tenantID, id uuid.UUID, req tasks.FailRequest) (store.AgentTask, error)
}

// UsageRecorder updates the calling agent's skill statistics.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, tenantID, agentID uuid.UUID, skillName string, success bool) error
}

type Router struct {
	store       store.Store
	credentials Credentials
	traces      *traces.Recorder
	tasks       TaskControl
	usage       UsageRecorder
	client      *http.Client
	cfg         config.SkillsConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*upstream]

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

func NewRouter(log *slog.Logger, st store.Store, creds Credentials, rec *traces.Recorder, taskCtl TaskControl, usage UsageRecorder, cfg config.Config) *Router {
	return &Router{
		store:       st,
		credentials: creds,
		traces:      rec,
		tasks:       taskCtl,
		usage:       usage,
		client:      &http.Client{},
		cfg:         cfg.Skills,
		breakers:    make(map[string]*gobreaker.CircuitBreaker[*upstream]),
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
		logger:      log.With(slog.String("service", "skill_router")),
	}
}

// dispatch carries what the pre-dispatch checks resolved.
type dispatch struct {
	tenantID  uuid.UUID
	req       ExecuteRequest
	config    store.SkillConfig
	task      *store.AgentTask
	instance  store.TenantInstance
	execution store.SkillExecution
}

// Execute runs the skill on the tenant's instance. Checks run in order:
// enabled, approval, rate limit, instance health, credentials.
func (r *Router) Execute(ctx context.Context, tenantID uuid.UUID, req ExecuteRequest) (ExecuteResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "skills.execute",
		telemetry.String("tenant_id", tenantID.String()),
		telemetry.String("skill", req.SkillName),
	)
	defer span.End()

	d, err := r.prepare(ctx, tenantID, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return ExecuteResponse{}, err
	}
	headers, err := r.fetchCredentials(ctx, d)
	if err != nil {
		r.release(ctx, d)
		telemetry.RecordError(span, err)
		return ExecuteResponse{}, err
	}

	callCtx := ctx
	if d.task != nil {
		var release func()
		callCtx, release = r.tasks.Track(ctx, d.task.ID)
		defer release()
	}

	start := time.Now()
	up, attempts, err := r.call(callCtx, d, headers)
	elapsed := time.Since(start)

	if d.task != nil && errors.Is(context.Cause(callCtx), tasks.ErrTaskCancelled) {
		r.appendTrace(ctx, d, traces.Step{
			Type:     store.StepCancelled,
			AgentID:  req.AgentID,
			Details:  map[string]any{"skill": req.SkillName, "execution_id": d.execution.ID.String()},
			Duration: elapsed,
			Timed:    true,
		})
		err = failure.New(failure.Conflict, "task was cancelled during the skill call")
		telemetry.RecordError(span, err)
		return ExecuteResponse{}, err
	}

	r.recordCall(ctx, d, up, attempts, elapsed, err)
	if req.AgentID != nil {
		if uerr := r.usage.RecordUsage(ctx, tenantID, *req.AgentID, req.SkillName, err == nil); uerr != nil {
			r.logger.Warn("record skill usage failed", slog.String("agent_id", req.AgentID.String()), slog.Any("error", uerr))
		}
	}
	if err != nil {
		telemetry.RecordError(span, err)
		if d.task != nil && failure.Retryable(failure.KindOf(err)) {
			r.failTask(ctx, d, err)
		}
		return ExecuteResponse{}, err
	}
	telemetry.SetOK(span)

	return ExecuteResponse{
		SkillName:   req.SkillName,
		ExecutionID: d.execution.ID,
		InstanceID:  d.instance.ID,
		Status:      up.status,
		Attempts:    attempts,
		DurationMS:  elapsed.Milliseconds(),
		Output:      asJSON(up.body),
	}, nil
}

func (r *Router) prepare(ctx context.Context, tenantID uuid.UUID, req ExecuteRequest) (dispatch, error) {
	d := dispatch{tenantID: tenantID, req: req}
	name := strings.TrimSpace(req.SkillName)
	if name == "" {
		return d, failure.New(failure.Validation, "skill_name is required")
	}
	d.req.SkillName = name

	cfg, err := r.store.GetSkillConfigByName(ctx, tenantID, name)
	if err != nil {
		return d, notFound(err, "skill "+name)
	}
	if !cfg.Enabled {
		return d, failure.New(failure.SkillDisabled, "skill %s is disabled", name)
	}
	d.config = cfg

	if req.AgentID != nil {
		if _, err := r.store.GetAgent(ctx, tenantID, *req.AgentID); err != nil {
			return d, notFound(err, "agent")
		}
	}
	if req.TaskID != nil {
		t, err := r.store.GetTask(ctx, tenantID, *req.TaskID)
		if err != nil {
			return d, notFound(err, "task")
		}
		if t.Status.Terminal() {
			return d, failure.New(failure.Conflict, "task is %s", t.Status)
		}
		d.task = &t
	}

	if cfg.RequiresApproval {
		if d.task == nil {
			return d, failure.New(failure.ApprovalRequired, "skill %s requires an approved task", name)
		}
		ok, err := r.traces.Has(ctx, tenantID, d.task.ID, store.StepApprovalGranted)
		if err != nil {
			return d, err
		}
		if !ok {
			return d, failure.New(failure.ApprovalRequired, "skill %s requires approval on the task", name)
		}
	}

	since := r.now().Add(-time.Duration(cfg.RateLimitWindowSeconds) * time.Second)
	d.execution, err = r.store.ReserveSkillCall(ctx, store.SkillExecution{
		TenantID:  tenantID,
		SkillName: name,
		TaskID:    req.TaskID,
		AgentID:   req.AgentID,
	}, since, cfg.RateLimitMaxCalls)
	if err != nil {
		if errors.Is(err, store.ErrLimitReached) {
			return d, failure.New(failure.RateLimited, "skill %s is rate limited", name).WithDetails(map[string]any{
				"max_calls":      cfg.RateLimitMaxCalls,
				"window_seconds": cfg.RateLimitWindowSeconds,
			})
		}
		return d, failure.Wrap(failure.Internal, err, "reserve skill call")
	}

	d.instance, err = r.instance(ctx, tenantID)
	if err != nil {
		r.release(ctx, d)
		return d, err
	}
	return d, nil
}

// release gives back the rate-limit slot of a call that never reached the
// instance.
func (r *Router) release(ctx context.Context, d dispatch) {
	if err := r.store.ReleaseSkillCall(context.WithoutCancel(ctx), d.tenantID, d.execution.ID); err != nil {
		r.logger.Warn("release skill call failed",
			slog.String("execution_id", d.execution.ID.String()),
			slog.Any("error", err),
		)
	}
}

// instance picks the tenant's first dispatchable runtime.
func (r *Router) instance(ctx context.Context, tenantID uuid.UUID) (store.TenantInstance, error) {
	rows, err := r.store.ListInstances(ctx, tenantID)
	if err != nil {
		return store.TenantInstance{}, failure.Wrap(failure.Internal, err, "list instances")
	}
	for _, inst := range rows {
		if inst.Dispatchable() {
			return inst, nil
		}
	}
	details := map[string]any{"instances": len(rows)}
	if len(rows) > 0 {
		details["status"] = string(rows[0].Status)
		details["healthy"] = rows[0].Health.Healthy
	}
	return store.TenantInstance{}, failure.New(failure.InstanceUnavailable, "no running and healthy skill instance").WithDetails(details)
}

func (r *Router) fetchCredentials(ctx context.Context, d dispatch) (http.Header, error) {
	headers := make(http.Header, len(d.config.CredentialKeys))
	if len(d.config.CredentialKeys) == 0 {
		return headers, nil
	}
	values := make([]string, len(d.config.CredentialKeys))
	g, gctx := errgroup.WithContext(ctx)
	for i, key := range d.config.CredentialKeys {
		g.Go(func() error {
			v, err := r.credentials.Fetch(gctx, d.tenantID, d.config.ID, key)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, key := range d.config.CredentialKeys {
		headers.Set(credentialHeader+key, values[i])
	}
	return headers, nil
}

type upstream struct {
	status int
	body   []byte
}

// callError marks whether a failed attempt may be retried.
type callError struct {
	err   *failure.Error
	retry bool
}

func (e *callError) Error() string { return e.err.Error() }
func (e *callError) Unwrap() error { return e.err }

func (r *Router) call(ctx context.Context, d dispatch, headers http.Header) (*upstream, int, error) {
	body, err := json.Marshal(map[string]any{
		"skill":        d.req.SkillName,
		"payload":      d.req.Payload,
		"task_id":      d.req.TaskID,
		"agent_id":     d.req.AgentID,
		"scopes":       d.config.AllowedScopes,
		"execution_id": d.execution.ID,
	})
	if err != nil {
		return nil, 0, failure.Wrap(failure.Validation, err, "payload is not valid JSON")
	}
	endpoint := strings.TrimRight(d.instance.InternalURL, "/") + "/skills/" + url.PathEscape(d.req.SkillName) + "/execute"
	breaker := r.breaker(d.instance.InternalURL)

	attempts := max(r.cfg.MaxRetries, 0) + 1
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.backoff(attempt-1)); err != nil {
				return nil, attempt - 1, failure.Wrap(failure.Timeout, err, "skill call interrupted")
			}
		}
		up, err := breaker.Execute(func() (*upstream, error) {
			return r.post(ctx, endpoint, body, headers)
		})
		if err == nil {
			return up, attempt, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, attempt, failure.Wrap(failure.InstanceUnavailable, err, "skill instance circuit is open")
		}
		last = err
		var ce *callError
		if !errors.As(err, &ce) || !ce.retry || ctx.Err() != nil {
			return up, attempt, err
		}
		r.logger.Warn("skill call failed, retrying",
			slog.String("skill", d.req.SkillName),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	return nil, attempts, last
}

func (r *Router) post(ctx context.Context, endpoint string, body []byte, headers http.Header) (*upstream, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &callError{err: failure.Wrap(failure.Internal, err, "build skill request")}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &callError{err: failure.Wrap(failure.Timeout, err, "skill call timed out"), retry: true}
		}
		return nil, &callError{err: failure.Wrap(failure.SkillError, err, "skill instance unreachable"), retry: ctx.Err() == nil}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &callError{err: failure.Wrap(failure.SkillError, err, "read skill response"), retry: true}
	}
	up := &upstream{status: resp.StatusCode, body: raw}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return up, nil
	}
	fe := failure.New(failure.SkillError, "skill instance returned %d", resp.StatusCode).WithDetails(map[string]any{
		"status":        resp.StatusCode,
		"upstream_body": prune.Bytes(raw, maxTracedBody),
	})
	return up, &callError{
		err:   fe,
		retry: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}

func (r *Router) breaker(instanceURL string) *gobreaker.CircuitBreaker[*upstream] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[instanceURL]; ok {
		return cb
	}
	maxFailures := r.cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker[*upstream](gobreaker.Settings{
		Name:        "skill-instance:" + instanceURL,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Duration(max(r.cfg.BreakerOpenSeconds, 1)) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		// Client errors are the caller's fault, not the instance's.
		IsSuccessful: func(err error) bool {
			var ce *callError
			return err == nil || (errors.As(err, &ce) && !ce.retry)
		},
	})
	r.breakers[instanceURL] = cb
	return cb
}

// backoff returns the delay before retry n (1-based): base * 2^(n-1) with
// ±25% jitter, capped.
func (r *Router) backoff(n int) time.Duration {
	base := time.Duration(r.cfg.BackoffBaseMillis) * time.Millisecond
	limit := time.Duration(r.cfg.BackoffCapMillis) * time.Millisecond
	d := base << (n - 1)
	if d <= 0 || d > limit {
		d = limit
	}
	jitter := 0.75 + rand.Float64()*0.5
	d = time.Duration(float64(d) * jitter)
	return min(d, limit)
}

func (r *Router) recordCall(ctx context.Context, d dispatch, up *upstream, attempts int, elapsed time.Duration, callErr error) {
	details := map[string]any{
		"skill":           d.req.SkillName,
		"execution_id":    d.execution.ID.String(),
		"instance_id":     d.instance.ID.String(),
		"attempts":        attempts,
		"credential_keys": d.config.CredentialKeys,
	}
	if up != nil {
		details["status"] = up.status
	}
	level := slog.LevelInfo
	if callErr != nil {
		level = slog.LevelWarn
		fe := failure.As(callErr)
		details["kind"] = string(fe.Kind)
		if body, ok := fe.Details["upstream_body"]; ok {
			details["upstream_body"] = body
		}
	}
	r.logger.Log(ctx, level, "skill call",
		slog.String("tenant_id", d.tenantID.String()),
		slog.String("skill", d.req.SkillName),
		slog.Int("attempts", attempts),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	r.appendTrace(ctx, d, traces.Step{
		Type:     store.StepSkillCall,
		AgentID:  d.req.AgentID,
		Details:  details,
		Duration: elapsed,
		Timed:    true,
	})
}

func (r *Router) appendTrace(ctx context.Context, d dispatch, step traces.Step) {
	if d.task == nil {
		return
	}
	if _, err := r.traces.Append(ctx, d.tenantID, d.task.ID, step); err != nil {
		r.logger.Error("append skill trace failed", slog.String("task_id", d.task.ID.String()), slog.Any("error", err))
	}
}

func (r *Router) failTask(ctx context.Context, d dispatch, callErr error) {
	fe := failure.As(callErr)
	details := map[string]any{"skill": d.req.SkillName}
	if body, ok := fe.Details["upstream_body"]; ok {
		details["upstream_body"] = body
	}
	_, err := r.tasks.Fail(ctx, d.tenantID, d.task.ID, tasks.FailRequest{
		Kind:    string(fe.Kind),
		Message: fe.Message,
		Details: details,
	})
	if err != nil && !failure.IsKind(err, failure.Conflict) {
		r.logger.Error("fail task after skill error", slog.String("task_id", d.task.ID.String()), slog.Any("error", err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

func asJSON(raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return raw
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return nil
	}
	return quoted
}
