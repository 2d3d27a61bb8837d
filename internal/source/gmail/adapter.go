// Package gmail fetches and mutates Gmail inbox messages through the Gmail
// REST API.
package gmail

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
	"github.com/nhle/mailboard/internal/source/restclient"
)

// DefaultBaseURL is the Gmail v1 endpoint.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

const (
	listPageSize = 100
	labelInbox   = "INBOX"
	labelStarred = "STARRED"
)

// Adapter implements source.Adapter for gmail.
type Adapter struct {
	baseURL     string
	concurrency int
	logger      *slog.Logger
	opts        []restclient.Option
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter creates a Gmail adapter that fetches message metadata with at
// most concurrency requests in flight.
func NewAdapter(baseURL string, concurrency int, logger *slog.Logger, opts ...restclient.Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Adapter{
		baseURL:     baseURL,
		concurrency: concurrency,
		logger:      logger.With("component", "gmail"),
		opts:        opts,
	}
}

// FetchItems lists inbox message ids received after req.Since, then loads
// Subject and From for each. A message whose metadata cannot be loaded is
// skipped unless the failure is an authorization error.
func (a *Adapter) FetchItems(ctx context.Context, req source.FetchRequest) ([]source.Record, error) {
	c := restclient.New(model.ProviderGmail, a.baseURL, req.AccessToken, a.opts...)

	refs, err := a.listIDs(ctx, c, req.Since)
	if err != nil {
		return nil, err
	}

	msgs := make([]*source.GmailMessage, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			m, err := a.getMessage(gctx, c, ref.ID)
			if err != nil {
				if apperr.IsAuth(err) || gctx.Err() != nil {
					return err
				}
				a.logger.Warn("skipping message", "account", req.AccountID, "id", ref.ID, "error", err)
				return nil
			}
			msgs[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading gmail messages: %w", err)
	}

	out := make([]source.GmailMessage, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, *m)
		}
	}
	// RFC 3339 UTC strings sort chronologically.
	slices.SortStableFunc(out, func(x, y source.GmailMessage) int {
		return cmp.Compare(y.ReceivedAt, x.ReceivedAt)
	})

	records := make([]source.Record, len(out))
	for i, m := range out {
		records[i] = m
	}
	return records, nil
}

func (a *Adapter) listIDs(ctx context.Context, c *restclient.Client, since time.Time) ([]messageRef, error) {
	var refs []messageRef
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("q", "in:inbox after:"+strconv.FormatInt(since.Unix(), 10))
		q.Set("maxResults", strconv.Itoa(listPageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page listResponse
		if err := c.Get(ctx, "/users/me/messages?"+q.Encode(), &page); err != nil {
			return nil, fmt.Errorf("listing gmail messages: %w", err)
		}
		refs = append(refs, page.Messages...)
		if page.NextPageToken == "" {
			return refs, nil
		}
		pageToken = page.NextPageToken
	}
}

func (a *Adapter) getMessage(ctx context.Context, c *restclient.Client, id string) (*source.GmailMessage, error) {
	q := url.Values{}
	q.Set("format", "metadata")
	q.Add("metadataHeaders", "Subject")
	q.Add("metadataHeaders", "From")

	var m message
	if err := c.Get(ctx, "/users/me/messages/"+url.PathEscape(id)+"?"+q.Encode(), &m); err != nil {
		return nil, fmt.Errorf("getting gmail message %s: %w", id, err)
	}

	rec := &source.GmailMessage{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Labels:   m.LabelIDs,
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			rec.Subject = h.Value
		case "from":
			rec.FromName, rec.FromAddress = parseFrom(h.Value)
		}
	}
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil {
		rec.ReceivedAt = time.UnixMilli(ms).UTC().Format(time.RFC3339)
	}
	return rec, nil
}

// parseFrom splits a From header into display name and address. Headers
// that are not valid RFC 5322 fall back to the text before "<".
func parseFrom(v string) (name, addr string) {
	if a, err := mail.ParseAddress(v); err == nil {
		return a.Name, a.Address
	}
	if i := strings.Index(v, "<"); i >= 0 {
		name = strings.Trim(strings.TrimSpace(v[:i]), `"`)
		addr = strings.TrimSuffix(strings.TrimSpace(v[i+1:]), ">")
		return name, addr
	}
	return "", strings.TrimSpace(v)
}

// MutateItem archives (drops the INBOX label) or stars a message.
func (a *Adapter) MutateItem(ctx context.Context, req source.MutateRequest) error {
	c := restclient.New(model.ProviderGmail, a.baseURL, req.AccessToken, a.opts...)
	path := "/users/me/messages/" + url.PathEscape(req.ItemID) + "/modify"

	var body modifyRequest
	switch req.Action {
	case source.ActionArchive:
		body.RemoveLabelIDs = []string{labelInbox}
	case source.ActionStar:
		if req.Value {
			body.AddLabelIDs = []string{labelStarred}
		} else {
			body.RemoveLabelIDs = []string{labelStarred}
		}
	default:
		return apperr.New(apperr.Unsupported, "mail does not support %q", req.Action).WithProvider(model.ProviderGmail)
	}

	if err := c.Post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("%s gmail message %s: %w", req.Action, req.ItemID, err)
	}
	return nil
}
