package core

import (
	"context"
	"fmt"
	"time"

	"gwi.com/recall-chat/internal/store"
)

const reindexPageSize = 100

type MessageLister interface {
	ListMessages(ctx context.Context, limit int, offset int) ([]store.Message, error)
}

// Reindex re-embeds every stored message and upserts its vector record. Records are keyed
// by message id, so running it again is harmless; it heals messages a failed turn left
// unindexed. interval spaces out embedding calls to stay under the provider rate limit.
// Messages that fail to embed or index are skipped and logged.
func (o *Orchestrator) Reindex(ctx context.Context, lister MessageLister, interval time.Duration) (int, error) {
	log := o.log.With("job", "reindex")
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	count, seen := 0, 0
	for offset := 0; ; offset += reindexPageSize {
		page, err := lister.ListMessages(ctx, reindexPageSize, offset)
		if err != nil {
			return count, fmt.Errorf("%w: list messages at offset %d: %v", ErrStoreUnavailable, offset, err)
		}
		for i := range page {
			msg := &page[i]
			seen++
			if tick != nil {
				select {
				case <-ctx.Done():
					return count, ctx.Err()
				case <-tick:
				}
			}

			vec, err := o.embed(ctx, Unit{Role: msg.Role, Text: msg.Content})
			if err != nil {
				log.Warn("Failed to embed message, skipping", "message_id", msg.ID, "error", err)
				continue
			}
			if err := o.vectors.Upsert(ctx, o.record(msg, vec)); err != nil {
				log.Warn("Failed to index message, skipping", "message_id", msg.ID, "error", err)
				continue
			}
			count++
			if count%10 == 0 {
				log.Info("Reindex progress", "indexed", count, "seen", seen)
			}
		}
		if len(page) < reindexPageSize {
			break
		}
	}
	log.Info("Reindex complete", "indexed", count, "seen", seen)
	return count, nil
}
