package workflow

import (
	"context"
	"io"
	"strings"

	"rcie/domain/core"
	domainhistory "rcie/domain/history"
	"rcie/internal/session"
)

// UploadDataset uploads content and makes it the active dataset.
func (c *Controller) UploadDataset(ctx context.Context, filename string, content io.Reader) (core.DatasetRef, error) {
	if strings.TrimSpace(filename) == "" {
		return "", c.reject(PhaseUpload, core.NewValidationError("filename", "required"))
	}

	var ref core.DatasetRef
	err := c.run(ctx, PhaseUpload, func(ctx context.Context) error {
		r, err := c.gateway.UploadDataset(ctx, filename, content)
		ref = r
		return err
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.dataset = ref
	c.uploadMessage = "Uploaded: " + ref.Base()
	c.mu.Unlock()
	c.logger.Info("[Workflow] active dataset is now %s", ref)
	return ref, nil
}

// Login authenticates and starts a session, then loads the user's history.
// A history load failure does not fail the login.
func (c *Controller) Login(ctx context.Context, email, password string) (*session.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, c.reject(PhaseAuth, core.NewValidationError("credentials", "email and password are required"))
	}

	var sess *session.Session
	err := c.run(ctx, PhaseAuth, func(ctx context.Context) error {
		res, err := c.gateway.Login(ctx, email, password)
		if err != nil {
			return err
		}
		sess, err = session.New(email, res.Token)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.history.Reset()
	if err := c.history.Reload(ctx, sess); err != nil {
		c.logger.Warn("[Workflow] could not load history for %s: %v", email, err)
	}
	c.logger.Info("[Workflow] logged in as %s", email)
	return sess, nil
}

// Signup registers an account. It does not start a session.
func (c *Controller) Signup(ctx context.Context, email, password, fullName string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return c.reject(PhaseAuth, core.NewValidationError("credentials", "email and password are required"))
	}
	return c.run(ctx, PhaseAuth, func(ctx context.Context) error {
		_, err := c.gateway.Signup(ctx, email, password, strings.TrimSpace(fullName))
		return err
	})
}

// Logout ends the session and drops the local history cache.
func (c *Controller) Logout() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.history.Reset()
}

// Session returns the active session, or nil.
func (c *Controller) Session() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// History returns the cached history entries, newest first.
func (c *Controller) History() []domainhistory.Entry {
	return c.history.Entries()
}

// ReloadHistory refreshes the history cache from the store.
func (c *Controller) ReloadHistory(ctx context.Context) error {
	return c.history.Reload(ctx, c.Session())
}

// ClearHistory deletes the user's entire history. It requires confirmed.
func (c *Controller) ClearHistory(ctx context.Context, confirmed bool) error {
	return c.history.ClearAll(ctx, c.Session(), confirmed)
}

// HistoryError is the last history store failure, if any.
func (c *Controller) HistoryError() error {
	return c.history.LastError()
}
