package imapmail

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

// Endpoint is an IMAP server address.
type Endpoint struct {
	Addr string
	// Insecure dials without TLS. Only for local test servers.
	Insecure bool
}

// credentials selects how a session logs in.
type credentials struct {
	username string
	password string
	token    string
}

// session is one authenticated IMAP connection with INBOX selected.
type session struct {
	client *imapclient.Client
	stop   func() bool
}

// dial connects, authenticates, and selects INBOX. The connection is torn
// down if ctx is cancelled while the session is open.
func dial(ctx context.Context, kind model.ProviderKind, ep Endpoint, creds credentials) (*session, error) {
	var (
		client *imapclient.Client
		err    error
	)
	if ep.Insecure {
		client, err = imapclient.DialInsecure(ep.Addr, nil)
	} else {
		client, err = imapclient.DialTLS(ep.Addr, nil)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.ProviderUnavailable, err, "connecting to IMAP %s", ep.Addr).WithProvider(kind)
	}
	s := &session{
		client: client,
		stop:   context.AfterFunc(ctx, func() { _ = client.Close() }),
	}

	if creds.token != "" {
		err = client.Authenticate(newXOAuth2Client(creds.username, creds.token))
	} else {
		err = client.Login(creds.username, creds.password).Wait()
	}
	if err != nil {
		s.close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.ReauthorizationRequired, err,
			"authentication failed for %s", creds.username).WithProvider(kind)
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		s.close()
		return nil, apperr.Wrap(apperr.ProviderUnavailable, err, "selecting INBOX").WithProvider(kind)
	}
	return s, nil
}

func (s *session) close() {
	s.stop()
	_ = s.client.Logout().Wait()
	_ = s.client.Close()
}

// fetchSince returns envelopes of messages with an internal date on or
// after since, keeping at most limit of the most recent ones.
func (s *session) fetchSince(since time.Time, limit int) ([]envelope, error) {
	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	var envelopes []envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		envelopes = append(envelopes, envelopeFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		return envelopes, fmt.Errorf("fetching envelopes: %w", err)
	}
	return envelopes, nil
}

// setFlagged adds or removes \Flagged on uid.
func (s *session) setFlagged(uid imap.UID, flagged bool) error {
	op := imap.StoreFlagsAdd
	if !flagged {
		op = imap.StoreFlagsDel
	}
	return s.client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagFlagged},
	}, nil).Close()
}

// archiveFolders are tried in order; the first that accepts the move wins.
var archiveFolders = []string{"Archive", "Archives", "INBOX.Archive"}

// archive moves uid out of INBOX, falling back to \Deleted when no
// archive folder exists.
func (s *session) archive(uid imap.UID) error {
	uidSet := imap.UIDSetNum(uid)
	for _, folder := range archiveFolders {
		if _, err := s.client.Move(uidSet, folder).Wait(); err == nil {
			return nil
		}
	}
	return s.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
}

// envelope is the part of a fetched message the adapter keeps.
type envelope struct {
	UID          uint32
	MessageID    string
	Subject      string
	Date         time.Time
	InternalDate time.Time
	FromName     string
	FromAddress  string
	Flagged      bool
}

func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) envelope {
	env := envelope{
		UID:          uint32(buf.UID),
		InternalDate: buf.InternalDate,
	}
	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.FromName = from.Name
			env.FromAddress = from.Addr()
		}
	}
	for _, f := range buf.Flags {
		if f == imap.FlagFlagged {
			env.Flagged = true
		}
	}
	return env
}
