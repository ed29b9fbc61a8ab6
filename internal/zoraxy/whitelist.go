package zoraxy

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
)

const (
	whitelistAddPath    = "/api/whitelist/ip/add"
	whitelistRemovePath = "/api/whitelist/ip/remove"
)

// AddEntry whitelists ip on the access rule identified by target.
func (c *Client) AddEntry(ctx context.Context, target, ip, comment string) error {
	form := url.Values{
		"ip":      {ip},
		"comment": {comment},
		"id":      {target},
	}
	return c.callWithRetry(ctx, "add", target, whitelistAddPath, form)
}

// RemoveEntry removes ip from the access rule identified by target. Use
// IsNotFound on the returned error to detect an already-absent entry.
func (c *Client) RemoveEntry(ctx context.Context, target, ip string) error {
	form := url.Values{
		"ip": {ip},
		"id": {target},
	}
	return c.callWithRetry(ctx, "remove", target, whitelistRemovePath, form)
}

// callWithRetry issues the call once and, if the session was rejected with
// 401/403, invalidates it, logs in again and reissues exactly once.
func (c *Client) callWithRetry(ctx context.Context, op, target, path string, form url.Values) error {
	gen, err := c.call(ctx, path, form)
	if err != nil && isAuthFailure(err) {
		slog.Info("zoraxy session rejected, re-authenticating",
			slog.String("op", op),
			slog.String("target", target),
			slog.Int("status", statusOf(err)),
		)
		c.store.Invalidate(gen)
		_, err = c.call(ctx, path, form)
	}

	c.metrics.observeCall(op, err)
	if err == nil {
		return nil
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return err
	}
	return &RemoteError{Op: op, Target: target, Status: statusOf(err), Cause: err}
}

// call ensures a session and posts the form with it. It returns the session
// generation the request was sent under.
func (c *Client) call(ctx context.Context, path string, form url.Values) (uint64, error) {
	if err := c.EnsureAuthenticated(ctx); err != nil {
		return 0, err
	}
	state, gen := c.store.Snapshot()

	req, err := c.newFormRequest(path, form, state)
	if err != nil {
		return gen, err
	}
	res, err := c.send(ctx, req)
	if err != nil {
		return gen, err
	}
	return gen, res.err()
}
