package sync

import (
	"context"
	"fmt"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
)

// Archive archives a message remotely and drops it from the cache.
func (c *Cache) Archive(ctx context.Context, accountID, itemID string) error {
	acc, err := c.mutate(ctx, accountID, source.MutateRequest{ItemID: itemID, Action: source.ActionArchive})
	if err != nil {
		return err
	}
	return c.store.DeleteItem(ctx, acc.ID, acc.Provider.ItemKind(), itemID)
}

// Star sets the starred/flagged state of a message remotely, then in the
// cache.
func (c *Cache) Star(ctx context.Context, accountID, itemID string, starred bool) error {
	acc, err := c.mutate(ctx, accountID, source.MutateRequest{ItemID: itemID, Action: source.ActionStar, Value: starred})
	if err != nil {
		return err
	}
	return c.updateCached(ctx, acc, itemID, starred, "isStarred", "isFlagged")
}

// Complete marks a task completed, or reopens it, remotely and then in the
// cache.
func (c *Cache) Complete(ctx context.Context, accountID, taskID, projectID string, completed bool) error {
	if projectID == "" {
		return apperr.New(apperr.Invalid, "project_id is required")
	}
	acc, err := c.mutate(ctx, accountID, source.MutateRequest{
		ItemID:    taskID,
		Action:    source.ActionComplete,
		Value:     completed,
		ProjectID: projectID,
	})
	if err != nil {
		return err
	}
	return c.updateCached(ctx, acc, taskID, completed, "isCompleted")
}

// mutate applies req remotely. Failures are returned as is; the cache is
// never touched when the provider did not confirm the change.
func (c *Cache) mutate(ctx context.Context, accountID string, req source.MutateRequest) (model.Account, error) {
	acc, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, err
	}
	cfg, adapter, err := c.prepare(ctx, *acc)
	if err != nil {
		return *acc, err
	}
	req.Config = cfg
	req.AccessToken = cfg.Token.AccessToken
	if err := adapter.MutateItem(ctx, req); err != nil {
		return *acc, fmt.Errorf("%s item %s of account %s: %w", req.Action, req.ItemID, acc.ID, err)
	}
	c.logger.Info("item updated", "account", acc.ID, "item", req.ItemID, "action", req.Action, "value", req.Value)
	return *acc, nil
}

// updateCached sets the flag of a cached item and whichever of keys its
// payload carries. An item that is not cached is not an error.
func (c *Cache) updateCached(ctx context.Context, acc model.Account, itemID string, flagged bool, keys ...string) error {
	item, err := c.store.GetItem(ctx, acc.ID, acc.Provider.ItemKind(), itemID)
	if apperr.Is(err, apperr.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	item.Flagged = flagged
	for _, k := range keys {
		if _, ok := item.Extra[k]; ok {
			item.Extra[k] = flagged
		}
	}
	return c.store.UpdateItem(ctx, *item)
}
