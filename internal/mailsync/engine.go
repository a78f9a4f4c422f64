// Package mailsync pulls mailbox changes exactly once per processing
// purpose: delta sync with a durable continuation cursor, search-based
// fallback and backfill, and an idempotency ledger guarding dispatch.
package mailsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/graph"
	"github.com/TRIOSCS/Avail-AI-Test-sub000/internal/state"
)

// Pager fetches pages of messages from the mailbox API.
type Pager interface {
	FetchAll(ctx context.Context, path string, q graph.Query, pageSizeHint, maxItems int) ([]graph.Message, error)
	FetchDelta(ctx context.Context, path, token string, q graph.Query, maxItems int) ([]graph.Message, string, error)
}

// CursorStore persists delta continuation tokens per (user, folder).
type CursorStore interface {
	GetCursor(ctx context.Context, userID, folder string) (*state.Cursor, error)
	SaveCursor(ctx context.Context, userID, folder, token string) error
	ClearCursor(ctx context.Context, userID, folder string) error
}

// MarkerStore is the idempotency ledger of handled (message, purpose)
// pairs.
type MarkerStore interface {
	FilterUnprocessed(ctx context.Context, ids []string, purpose string) ([]string, error)
	MarkProcessed(ctx context.Context, messageID, purpose string) error
}

var _ Pager = (*graph.Client)(nil)

// Handler receives each new, unprocessed message. Handler failures are
// logged and do not prevent the message from being marked processed, so
// handlers must tolerate redundant input from a crash-redelivery.
type Handler func(ctx context.Context, msg graph.Message) error

// RunResult summarizes one sync pass.
type RunResult struct {
	// MessagesScanned is the number of messages fetched this run,
	// before the already-processed filter.
	MessagesScanned int

	// Dispatched is how many of those were new for this purpose and
	// handed to the handler.
	Dispatched int

	// UsedDelta is false when this run fell back to a search-based scan.
	UsedDelta bool
}

// Engine runs one sync pass per call for one (user, folder, purpose).
type Engine struct {
	Pager   Pager
	Cursors CursorStore
	Markers MarkerStore

	// Lookback windows for the search fallback: wide when the folder has
	// never synced, narrow afterwards.
	BackfillLookback    time.Duration
	IncrementalLookback time.Duration

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

const fallbackChunk = 7 * 24 * time.Hour

// Run executes one sync pass: attempt delta from the stored cursor, fall
// back to a bounded date-range search on token expiry or delta failure,
// filter out already-processed messages, dispatch the rest, and persist
// the new cursor. lookback overrides the configured fallback window when
// positive. A message is dispatched at most once per purpose across the
// lifetime of the ledger.
func (e *Engine) Run(ctx context.Context, userID, folder string, purpose Purpose, lookback time.Duration, maxMessages int, handler Handler) (RunResult, error) {
	cur, err := e.Cursors.GetCursor(ctx, userID, folder)
	if err != nil {
		return RunResult{}, fmt.Errorf("load cursor: %w", err)
	}

	firstSync := cur == nil
	token := ""
	if cur != nil {
		token = cur.Token
	}

	var (
		msgs      []graph.Message
		newToken  string
		usedDelta bool
	)

	deltaPath := fmt.Sprintf("/users/%s/mailFolders/%s/messages/delta", userID, folder)
	fetched, tok, deltaErr := e.Pager.FetchDelta(ctx, deltaPath, token, graph.Query{Select: graph.MessageFields}, maxMessages)

	switch {
	case deltaErr == nil:
		msgs, newToken, usedDelta = fetched, tok, true

	case errors.Is(deltaErr, graph.ErrSyncStateExpired):
		// The token is dead; forget it so the next run re-establishes a
		// fresh cursor, and discover this run's messages by search.
		log.Printf("sync %s/%s: continuation token expired, falling back to search", userID, folder)
		if cerr := e.Cursors.ClearCursor(ctx, userID, folder); cerr != nil {
			log.Printf("sync %s/%s: clear cursor: %v", userID, folder, cerr)
		}
		msgs, err = e.fallbackSearch(ctx, userID, folder, firstSync, lookback, maxMessages)
		if err != nil {
			return RunResult{}, fmt.Errorf("fallback search: %w", err)
		}

	default:
		// Generic delta failure: the token may still be valid later, so
		// keep it and try search for this run.
		log.Printf("sync %s/%s: delta failed (%v), falling back to search", userID, folder, deltaErr)
		msgs, err = e.fallbackSearch(ctx, userID, folder, firstSync, lookback, maxMessages)
		if err != nil {
			return RunResult{}, fmt.Errorf("delta failed (%v), fallback search: %w", deltaErr, err)
		}
	}

	ids := make([]string, 0, len(msgs))
	byID := make(map[string]graph.Message, len(msgs))
	for _, m := range msgs {
		if _, dup := byID[m.ID]; dup {
			continue
		}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}

	unprocessed, err := e.Markers.FilterUnprocessed(ctx, ids, string(purpose))
	if err != nil {
		return RunResult{}, fmt.Errorf("filter unprocessed: %w", err)
	}

	for _, id := range unprocessed {
		e.dispatch(ctx, byID[id], purpose, handler)
	}

	if usedDelta && newToken != "" {
		if err := e.Cursors.SaveCursor(ctx, userID, folder, newToken); err != nil {
			return RunResult{}, fmt.Errorf("save cursor: %w", err)
		}
	}

	return RunResult{
		MessagesScanned: len(ids),
		Dispatched:      len(unprocessed),
		UsedDelta:       usedDelta,
	}, nil
}

// dispatch hands one message to the handler and marks it processed on
// every exit path, handler errors and panics included: inspection counts
// as handled.
func (e *Engine) dispatch(ctx context.Context, msg graph.Message, purpose Purpose, handler Handler) {
	defer func() {
		if err := e.Markers.MarkProcessed(ctx, msg.ID, string(purpose)); err != nil {
			log.Printf("sync: mark processed %s purpose %s: %v", msg.ID, purpose, err)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("sync: handler panic on message %s purpose %s: %v", msg.ID, purpose, r)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		log.Printf("sync: handler error on message %s purpose %s: %v", msg.ID, purpose, err)
	}
}

// fallbackSearch scans a lookback window with date-range listing queries,
// chunked so no single query covers more than a week, deduplicating
// message ids across chunks.
func (e *Engine) fallbackSearch(ctx context.Context, userID, folder string, firstSync bool, lookback time.Duration, maxMessages int) ([]graph.Message, error) {
	window := lookback
	if window <= 0 {
		if firstSync {
			window = e.BackfillLookback
		} else {
			window = e.IncrementalLookback
		}
	}
	if window <= 0 {
		window = 48 * time.Hour
	}

	now := e.now()
	start := now.Add(-window)
	path := fmt.Sprintf("/users/%s/mailFolders/%s/messages", userID, folder)

	seen := make(map[string]bool)
	var out []graph.Message

	for chunkStart := start; chunkStart.Before(now); chunkStart = chunkStart.Add(fallbackChunk) {
		chunkEnd := chunkStart.Add(fallbackChunk)
		if chunkEnd.After(now) {
			chunkEnd = now
		}

		q := graph.Query{
			Filter: fmt.Sprintf("receivedDateTime ge %s and receivedDateTime lt %s",
				chunkStart.UTC().Format(time.RFC3339), chunkEnd.UTC().Format(time.RFC3339)),
			OrderBy: "receivedDateTime desc",
			Select:  graph.MessageFields,
		}

		remaining := 0
		if maxMessages > 0 {
			remaining = maxMessages - len(out)
			if remaining <= 0 {
				break
			}
		}

		msgs, err := e.Pager.FetchAll(ctx, path, q, 100, remaining)
		if err != nil {
			return nil, err
		}

		for _, m := range msgs {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}

	return out, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
