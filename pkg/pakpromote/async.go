package pakpromote

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/function61/gokit/ezhttp"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/retry"
	"github.com/function61/pakka/pkg/paktypes"
)

// returns an accepted (non-terminal) result right away. the terminal result is persisted
// and delivered to req.Callback (if any) when the promotion finishes
func (e *Engine) SubmitPaths(ctx context.Context, req paktypes.PathsPromoteRequest) (*paktypes.PromoteResult, error) {
	if err := e.checkPathsInput(ctx, req); err != nil {
		return nil, err
	}

	created := e.now()

	accepted := newResult(paktypes.PromotionKindPaths, req.Source, req.Target, req.DryRun)
	accepted.Accepted = true

	e.persist(ctx, accepted, created, &req, nil)

	id := accepted.ID

	if err := e.async.Submit(ctx, "promote-paths/"+id, func(ctx context.Context) error {
		result := newResult(paktypes.PromotionKindPaths, req.Source, req.Target, req.DryRun)
		result.ID = id

		e.promotePaths(ctx, req, nil, result)

		e.persist(ctx, result, created, &req, nil)

		return e.callbacks.deliver(ctx, req.Callback, result)
	}); err != nil {
		return nil, err
	}

	return accepted, nil
}

func (e *Engine) SubmitGroup(ctx context.Context, req paktypes.GroupPromoteRequest) (*paktypes.PromoteResult, error) {
	if err := e.checkGroupInput(ctx, req); err != nil {
		return nil, err
	}

	created := e.now()

	accepted := newResult(paktypes.PromotionKindGroup, req.Source, req.TargetGroup, req.DryRun)
	accepted.Accepted = true

	e.persist(ctx, accepted, created, nil, &req)

	id := accepted.ID

	if err := e.async.Submit(ctx, "promote-group/"+id, func(ctx context.Context) error {
		result := newResult(paktypes.PromotionKindGroup, req.Source, req.TargetGroup, req.DryRun)
		result.ID = id

		e.promoteGroup(ctx, req, result)

		e.persist(ctx, result, created, nil, &req)

		return e.callbacks.deliver(ctx, req.Callback, result)
	}); err != nil {
		return nil, err
	}

	return accepted, nil
}

// honors req.Async: the async variant if set, otherwise synchronous
func (e *Engine) Paths(ctx context.Context, req paktypes.PathsPromoteRequest) (*paktypes.PromoteResult, error) {
	if req.Async {
		return e.SubmitPaths(ctx, req)
	}
	return e.PromotePaths(ctx, req)
}

func (e *Engine) Group(ctx context.Context, req paktypes.GroupPromoteRequest) (*paktypes.PromoteResult, error) {
	if req.Async {
		return e.SubmitGroup(ctx, req)
	}
	return e.PromoteGroup(ctx, req)
}

type callbackSender struct {
	timeout time.Duration
	logl    *logex.Leveled
}

func newCallbackSender(timeout time.Duration, logger *log.Logger) *callbackSender {
	if timeout == 0 {
		timeout = ezhttp.DefaultTimeout10s
	}

	return &callbackSender{
		timeout: timeout,
		logl:    logex.Levels(logex.NonNil(logger)),
	}
}

// retried until the timeout. the promotion itself already happened, so this only affects
// whether the caller hears about it
func (c *callbackSender) deliver(ctx context.Context, target *paktypes.CallbackTarget, result *paktypes.PromoteResult) error {
	if target == nil || target.URL == "" {
		return nil
	}

	if method := target.MethodOrDefault(); method != http.MethodPost && method != http.MethodPut {
		return fmt.Errorf("callback %s for %s: unsupported method %s", target.URL, result.ID, method)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	headers := []ezhttp.ConfigPiece{ezhttp.SendJson(result)}
	for key, value := range target.Headers {
		headers = append(headers, ezhttp.Header(key, value))
	}

	send := func(ctx context.Context) error {
		resp, err := sendCallback(ctx, target, headers)
		if err != nil {
			return err
		}
		// ezhttp closes the body only for error responses
		return resp.Body.Close()
	}

	if err := retry.Retry(ctx, send, retry.DefaultBackoff(), func(err error) {
		c.logl.Error.Printf("callback %s for %s: %v", target.URL, result.ID, err)
	}); err != nil {
		return fmt.Errorf("callback %s for %s: %w", target.URL, result.ID, err)
	}

	c.logl.Debug.Printf("delivered %s to %s", result.ID, target.URL)

	return nil
}

func sendCallback(ctx context.Context, target *paktypes.CallbackTarget, conf []ezhttp.ConfigPiece) (*http.Response, error) {
	if target.MethodOrDefault() == http.MethodPut {
		return ezhttp.Put(ctx, target.URL, conf...)
	}
	return ezhttp.Post(ctx, target.URL, conf...)
}
