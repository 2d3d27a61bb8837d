// Package graph fetches and mutates Microsoft 365 mail through the Graph API,
// for the signed-in user's inbox or a shared mailbox.
package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
	"github.com/nhle/mailboard/internal/source/restclient"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const (
	fetchFields = "id,subject,from,receivedDateTime,webLink,flag"
	pageSize    = 200
)

// Adapter implements source.Adapter for graph-mail and graph-mail-shared.
type Adapter struct {
	baseURL string
	opts    []restclient.Option
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter creates a Graph adapter. An empty baseURL means DefaultBaseURL.
func NewAdapter(baseURL string, opts ...restclient.Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{baseURL: baseURL, opts: opts}
}

func (a *Adapter) client(cfg model.AccountConfig, token string) *restclient.Client {
	return restclient.New(cfg.Kind, a.baseURL, token, a.opts...)
}

// mailboxPath is /me or /users/{shared}.
func mailboxPath(cfg model.AccountConfig) string {
	if cfg.Kind == model.ProviderGraphMailShared && cfg.Graph != nil && cfg.Graph.SharedMailbox != "" {
		return "/users/" + url.PathEscape(cfg.Graph.SharedMailbox)
	}
	return "/me"
}

// FetchItems lists inbox messages received since req.Since, newest first,
// following @odata.nextLink until the last page.
func (a *Adapter) FetchItems(ctx context.Context, req source.FetchRequest) ([]source.Record, error) {
	c := a.client(req.Config, req.AccessToken)

	q := url.Values{}
	q.Set("$filter", "receivedDateTime ge "+req.Since.UTC().Format(time.RFC3339))
	q.Set("$select", fetchFields)
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$top", strconv.Itoa(pageSize))
	next := mailboxPath(req.Config) + "/mailFolders/inbox/messages?" + q.Encode()

	var records []source.Record
	for next != "" {
		var page messagePage
		if err := c.Get(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("listing graph messages: %w", err)
		}
		for _, m := range page.Value {
			records = append(records, toRecord(m))
		}
		next = page.NextLink
	}
	return records, nil
}

func toRecord(m message) source.GraphMessage {
	rec := source.GraphMessage{
		ID:         m.ID,
		Subject:    m.Subject,
		ReceivedAt: m.ReceivedDateTime,
		WebLink:    m.WebLink,
		Flagged:    m.Flag != nil && m.Flag.FlagStatus == "flagged",
	}
	if m.From != nil {
		rec.FromName = m.From.EmailAddress.Name
		rec.FromAddress = m.From.EmailAddress.Address
	}
	return rec
}

// MutateItem archives or flags a message.
func (a *Adapter) MutateItem(ctx context.Context, req source.MutateRequest) error {
	c := a.client(req.Config, req.AccessToken)
	path := mailboxPath(req.Config) + "/messages/" + url.PathEscape(req.ItemID)

	switch req.Action {
	case source.ActionArchive:
		if err := c.Post(ctx, path+"/move", moveRequest{DestinationID: "archive"}, nil); err != nil {
			return fmt.Errorf("archiving graph message %s: %w", req.ItemID, err)
		}
	case source.ActionStar:
		status := "notFlagged"
		if req.Value {
			status = "flagged"
		}
		if err := c.Patch(ctx, path, flagPatch{Flag: flag{FlagStatus: status}}, nil); err != nil {
			return fmt.Errorf("flagging graph message %s: %w", req.ItemID, err)
		}
	default:
		return apperr.New(apperr.Unsupported, "mail does not support %q", req.Action).WithProvider(req.Config.Kind)
	}
	return nil
}
