package model

import (
	"encoding/json"
	"fmt"
)

// ItemKind separates mail from tasks.
type ItemKind string

const (
	ItemKindEmail ItemKind = "email"
	ItemKindTask  ItemKind = "task"
)

// Item is the canonical record shared by every provider.
type Item struct {
	// ID is the provider-assigned identifier, unique per account and kind.
	ID string `json:"id"`

	// AccountID is the owning account.
	AccountID string `json:"account_id"`

	// Kind is email or task.
	Kind ItemKind `json:"kind"`

	// Title is the subject line or task title.
	Title string `json:"title"`

	// Sender is the human-readable origin (sender name, address, or project).
	Sender string `json:"sender"`

	// Date is a sortable ISO-8601 timestamp; empty for undated tasks.
	Date string `json:"date"`

	// Link opens the item in the provider's web UI.
	Link string `json:"link"`

	// Flagged is the starred/flagged state for mail, completion for tasks.
	Flagged bool `json:"flagged"`

	// Provider is the provider kind that produced the item.
	Provider ProviderKind `json:"provider"`

	// Extra holds provider-specific fields. They are flattened next to the
	// canonical fields when encoded.
	Extra map[string]any `json:"-"`
}

var canonicalItemKeys = []string{"id", "account_id", "kind", "title", "sender", "date", "link", "flagged", "provider"}

// MarshalJSON flattens Extra into the top-level object. Map keys are
// emitted in sorted order, so equal items encode to identical bytes.
func (it Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(it.Extra)+len(canonicalItemKeys))
	for k, v := range it.Extra {
		out[k] = v
	}
	out["id"] = it.ID
	out["account_id"] = it.AccountID
	out["kind"] = it.Kind
	out["title"] = it.Title
	out["sender"] = it.Sender
	out["date"] = it.Date
	out["link"] = it.Link
	out["flagged"] = it.Flagged
	out["provider"] = it.Provider
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON: unknown keys land in Extra.
func (it *Item) UnmarshalJSON(data []byte) error {
	type canonical struct {
		ID        string       `json:"id"`
		AccountID string       `json:"account_id"`
		Kind      ItemKind     `json:"kind"`
		Title     string       `json:"title"`
		Sender    string       `json:"sender"`
		Date      string       `json:"date"`
		Link      string       `json:"link"`
		Flagged   bool         `json:"flagged"`
		Provider  ProviderKind `json:"provider"`
	}
	var c canonical
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("decoding item: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decoding item fields: %w", err)
	}
	for _, k := range canonicalItemKeys {
		delete(all, k)
	}
	*it = Item{
		ID:        c.ID,
		AccountID: c.AccountID,
		Kind:      c.Kind,
		Title:     c.Title,
		Sender:    c.Sender,
		Date:      c.Date,
		Link:      c.Link,
		Flagged:   c.Flagged,
		Provider:  c.Provider,
	}
	if len(all) > 0 {
		it.Extra = all
	}
	return nil
}
