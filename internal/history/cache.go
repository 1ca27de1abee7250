package history

import (
	"context"
	"sync"

	"rcie/domain/core"
	"rcie/domain/history"
	"rcie/internal"
	"rcie/internal/errors"
	"rcie/internal/session"
	"rcie/ports"
)

// Metrics receives history cache signals.
type Metrics interface {
	RecordHistoryAppendFailure()
}

// Cache is the local, session-scoped mirror of the user's remote history. The
// remote store is authoritative; the cache is only ever replaced wholesale from
// it.
type Cache struct {
	store   ports.HistoryStore
	logger  *internal.Logger
	metrics Metrics

	mu      sync.RWMutex
	owner   string
	entries []history.Entry
	lastErr error
	// issued counts reloads started; loaded is the newest one applied.
	issued uint64
	loaded uint64
}

// NewCache creates an empty cache over store. metrics may be nil.
func NewCache(store ports.HistoryStore, logger *internal.Logger, metrics Metrics) *Cache {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	return &Cache{store: store, logger: logger, metrics: metrics}
}

// Append saves an analysis to the remote store and reloads on success. It is a
// no-op without an active session. Failures are recorded in LastError and
// never returned, so a result already shown to the user is never affected.
func (c *Cache) Append(ctx context.Context, sess *session.Session, typ history.AnalysisType, inputs, results map[string]interface{}) {
	if !session.Active(sess) {
		return
	}

	draft := history.Draft{Type: typ, Inputs: inputs, Results: results}
	if err := c.store.Save(session.NewContext(ctx, sess), sess.Email(), draft); err != nil {
		c.logger.Warn("[History] failed to save %s entry for %s: %v", typ, sess.Email(), err)
		if c.metrics != nil {
			c.metrics.RecordHistoryAppendFailure()
		}
		c.setLastError(err)
		return
	}
	c.setLastError(nil)

	if err := c.Reload(ctx, sess); err != nil {
		c.logger.Warn("[History] reload after save failed: %v", err)
	}
}

// Reload replaces the cache with the store's current list. On failure the
// previous entries are kept.
func (c *Cache) Reload(ctx context.Context, sess *session.Session) error {
	if !session.Active(sess) {
		return core.ErrNoSession
	}

	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	entries, err := c.store.List(session.NewContext(ctx, sess), sess.Email())
	if err != nil {
		c.setLastError(err)
		return errors.Wrap(err, "failed to reload history")
	}

	c.mu.Lock()
	if newer := c.loaded; seq < newer {
		c.mu.Unlock()
		c.logger.Debug("[History] dropped reload #%d, #%d is newer", seq, newer)
		return nil
	}
	c.loaded = seq
	c.owner = sess.Email()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Debug("[History] loaded %d entries for %s", len(entries), sess.Email())
	return nil
}

// ClearAll irreversibly deletes the user's history. It refuses to run unless
// confirmed is true. The local cache is emptied only after the store succeeds.
func (c *Cache) ClearAll(ctx context.Context, sess *session.Session, confirmed bool) error {
	if !confirmed {
		return core.ErrConfirmationRequired
	}
	if !session.Active(sess) {
		return core.ErrNoSession
	}

	if err := c.store.Clear(session.NewContext(ctx, sess), sess.Email()); err != nil {
		c.setLastError(err)
		return errors.Wrap(err, "failed to clear history")
	}

	c.mu.Lock()
	c.supersede()
	c.owner = sess.Email()
	c.entries = nil
	c.mu.Unlock()
	c.logger.Info("[History] cleared history for %s", sess.Email())
	return nil
}

// Entries returns a copy of the cached entries, newest first.
func (c *Cache) Entries() []history.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]history.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Owner is the email the cached entries belong to, empty before the first load.
func (c *Cache) Owner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// LastError is the most recent store failure, nil after a successful save.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Reset drops all local state, as on logout.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersede()
	c.owner = ""
	c.entries = nil
	c.lastErr = nil
}

// supersede makes every reload already in flight stale. mu must be held.
func (c *Cache) supersede() {
	c.issued++
	c.loaded = c.issued
}

func (c *Cache) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
