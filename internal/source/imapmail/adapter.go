// Package imapmail reads and mutates IMAP inboxes: Yahoo with an OAuth
// access token over XOAUTH2, iCloud with an app password.
package imapmail

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
)

// DefaultEndpoints are the public IMAP servers of each supported provider.
var DefaultEndpoints = map[model.ProviderKind]Endpoint{
	model.ProviderIMAPYahoo:  {Addr: "imap.mail.yahoo.com:993"},
	model.ProviderIMAPICloud: {Addr: "imap.mail.me.com:993"},
}

// maxMessages caps a single fetch to the most recent messages.
const maxMessages = 200

// Adapter implements source.Adapter for imap-yahoo and imap-icloud.
type Adapter struct {
	endpoints map[model.ProviderKind]Endpoint
	logger    *slog.Logger
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter creates an IMAP adapter. A nil endpoints map means
// DefaultEndpoints.
func NewAdapter(endpoints map[model.ProviderKind]Endpoint, logger *slog.Logger) *Adapter {
	if endpoints == nil {
		endpoints = DefaultEndpoints
	}
	return &Adapter{endpoints: endpoints, logger: logger.With("component", "imap")}
}

func (a *Adapter) open(ctx context.Context, cfg model.AccountConfig, token string) (*session, error) {
	ep, ok := a.endpoints[cfg.Kind]
	if !ok {
		return nil, apperr.New(apperr.UnknownProvider, "no IMAP endpoint for %q", cfg.Kind)
	}
	if cfg.IMAP == nil || cfg.IMAP.Username == "" {
		return nil, apperr.New(apperr.Invalid, "IMAP account has no username").WithProvider(cfg.Kind)
	}
	creds := credentials{username: cfg.IMAP.Username}
	if cfg.Kind.UsesOAuth() {
		if token == "" {
			return nil, apperr.New(apperr.NotAuthorized, "no access token").WithProvider(cfg.Kind)
		}
		creds.token = token
	} else {
		creds.password = cfg.IMAP.AppPassword
	}
	return dial(ctx, cfg.Kind, ep, creds)
}

// FetchItems returns INBOX messages since req.Since, newest first.
func (a *Adapter) FetchItems(ctx context.Context, req source.FetchRequest) ([]source.Record, error) {
	s, err := a.open(ctx, req.Config, req.AccessToken)
	if err != nil {
		return nil, err
	}
	defer s.close()

	envs, err := s.fetchSince(req.Since, maxMessages)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.ProviderUnavailable, err, "fetching inbox").WithProvider(req.Config.Kind)
	}
	a.logger.Debug("fetched envelopes", "account", req.AccountID, "count", len(envs))

	return toRecords(envs), nil
}

func toRecords(envs []envelope) []source.Record {
	slices.SortStableFunc(envs, func(x, y envelope) int {
		return cmp.Compare(y.InternalDate.UnixNano(), x.InternalDate.UnixNano())
	})
	records := make([]source.Record, 0, len(envs))
	for _, e := range envs {
		rec := source.IMAPMessage{
			UID:         e.UID,
			MessageID:   e.MessageID,
			Subject:     e.Subject,
			FromName:    e.FromName,
			FromAddress: e.FromAddress,
			Flagged:     e.Flagged,
		}
		if !e.Date.IsZero() {
			rec.Date = e.Date.UTC().Format(time.RFC3339)
		}
		if !e.InternalDate.IsZero() {
			rec.ReceivedAt = e.InternalDate.UTC().Format(time.RFC3339)
		}
		records = append(records, rec)
	}
	return records
}

// MutateItem archives or flags the message with UID req.ItemID.
func (a *Adapter) MutateItem(ctx context.Context, req source.MutateRequest) error {
	uid, err := parseUID(req.ItemID)
	if err != nil {
		return err
	}
	if req.Action != source.ActionArchive && req.Action != source.ActionStar {
		return apperr.New(apperr.Unsupported, "mail does not support %q", req.Action).WithProvider(req.Config.Kind)
	}

	s, err := a.open(ctx, req.Config, req.AccessToken)
	if err != nil {
		return err
	}
	defer s.close()

	if req.Action == source.ActionArchive {
		err = s.archive(uid)
	} else {
		err = s.setFlagged(uid, req.Value)
	}
	if err != nil {
		return apperr.Wrap(apperr.ProviderUnavailable, err, "%s message %d", req.Action, uid).WithProvider(req.Config.Kind)
	}
	return nil
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil || n == 0 {
		return 0, apperr.New(apperr.Invalid, "invalid message UID %q", id)
	}
	return imap.UID(n), nil
}
