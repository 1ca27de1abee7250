package gateway

import (
	"context"
	"net/http"
	"net/url"

	"rcie/domain/core"
	"rcie/domain/history"
)

// Save appends an entry to the user's remote history.
func (c *Client) Save(ctx context.Context, email string, draft history.Draft) error {
	req := historySaveRequest{
		Email:   email,
		Type:    string(draft.Type),
		Inputs:  draft.Inputs,
		Results: draft.Results,
	}
	var ack map[string]interface{}
	return c.postJSON(ctx, "history.save", "/history/save", req, &ack)
}

// List returns the user's history, newest first as ordered by the gateway.
func (c *Client) List(ctx context.Context, email string) ([]history.Entry, error) {
	var items []historyItem
	if err := c.send(ctx, "history.list", http.MethodGet, historyPath(email), "", nil, &items); err != nil {
		return nil, err
	}

	entries := make([]history.Entry, 0, len(items))
	for _, item := range items {
		typ, err := history.ParseAnalysisType(item.Type)
		if err != nil {
			c.logger.Warn("[Gateway] skipping history item %s: %v", rawID(item.ID), err)
			continue
		}
		entry := history.Entry{
			ID:      core.EntryID(rawID(item.ID)),
			Type:    typ,
			Inputs:  item.Inputs,
			Results: item.Results,
		}
		if ts, err := core.ParseTimestamp(item.Timestamp); err == nil {
			entry.Timestamp = ts
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Clear deletes the user's entire remote history.
func (c *Client) Clear(ctx context.Context, email string) error {
	return c.send(ctx, "history.clear", http.MethodDelete, historyPath(email), "", nil, nil)
}

func historyPath(email string) string {
	return "/history/" + url.PathEscape(email)
}
