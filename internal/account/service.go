// Package account registers, edits and removes accounts. Provider settings
// only leave this package encrypted.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/credential"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/store"
)

// NewAccount is a registration request.
type NewAccount struct {
	Name     string             `json:"name"`
	Provider model.ProviderKind `json:"provider"`
	Color    string             `json:"color"`

	// Email is the IMAP login for imap-yahoo and imap-icloud.
	Email string `json:"email"`

	// AppPassword is the iCloud app-specific password.
	AppPassword string `json:"app_password"`

	SharedMailbox      string `json:"shared_mailbox"`
	GmailAccountNumber int    `json:"gmail_account_number"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name               *string `json:"name"`
	Color              *string `json:"color"`
	Email              *string `json:"email"`
	AppPassword        *string `json:"app_password"`
	SharedMailbox      *string `json:"shared_mailbox"`
	GmailAccountNumber *int    `json:"gmail_account_number"`
}

// View is the public representation of an account. It never carries
// tokens or passwords.
type View struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Provider           model.ProviderKind `json:"provider"`
	Email              string             `json:"email,omitempty"`
	Color              string             `json:"color"`
	HasToken           bool               `json:"has_token"`
	SharedMailbox      string             `json:"shared_mailbox,omitempty"`
	GmailAccountNumber int                `json:"gmail_account_number"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Forgetter is notified when an account is deleted.
type Forgetter interface {
	Forget(accountID string)
}

// Service manages accounts.
type Service struct {
	store  store.AccountStore
	creds  *credential.Store
	forget Forgetter
	logger *slog.Logger
}

// NewService creates a Service. forget may be nil.
func NewService(s store.AccountStore, creds *credential.Store, forget Forgetter, logger *slog.Logger) *Service {
	return &Service{
		store:  s,
		creds:  creds,
		forget: forget,
		logger: logger.With("component", "accounts"),
	}
}

// NewID returns a fresh account id: "acc_" and nine hex characters.
func NewID() string {
	return "acc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// Register validates req, encrypts its settings and stores the account.
func (s *Service) Register(ctx context.Context, req NewAccount) (View, error) {
	if strings.TrimSpace(req.Name) == "" {
		return View{}, apperr.New(apperr.Invalid, "name is required")
	}
	kind, err := model.ParseProviderKind(string(req.Provider))
	if err != nil {
		return View{}, apperr.Wrap(apperr.UnknownProvider, err, "registering account")
	}

	cfg := model.NewAccountConfig(kind)
	switch kind {
	case model.ProviderGraphMail, model.ProviderGraphMailShared:
		cfg.Graph.SharedMailbox = strings.TrimSpace(req.SharedMailbox)
	case model.ProviderGmail:
		cfg.Gmail.AccountNumber = req.GmailAccountNumber
	case model.ProviderIMAPYahoo, model.ProviderIMAPICloud:
		cfg.IMAP.Username = strings.TrimSpace(req.Email)
		cfg.IMAP.AppPassword = req.AppPassword
	}
	if err := cfg.Validate(); err != nil {
		return View{}, apperr.Wrap(apperr.Invalid, err, "registering %s account", kind)
	}

	blob, err := s.creds.Seal(cfg)
	if err != nil {
		return View{}, err
	}
	color := req.Color
	if color == "" {
		color = model.DefaultAccountColor
	}
	now := time.Now().UTC()
	acc := model.Account{
		ID:        NewID(),
		Name:      strings.TrimSpace(req.Name),
		Provider:  kind,
		Email:     strings.TrimSpace(req.Email),
		Color:     color,
		Config:    blob,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return View{}, err
	}
	s.logger.Info("account registered", "account", acc.ID, "provider", kind)
	return viewOf(acc, cfg), nil
}

// List returns every account.
func (s *Service) List(ctx context.Context) ([]View, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(accounts))
	for _, acc := range accounts {
		cfg, err := s.creds.Open(acc.Config)
		if err != nil {
			// Still listed so the user can delete and re-register it.
			s.logger.Warn("account config unreadable", "account", acc.ID, "err", err)
			cfg = model.NewAccountConfig(acc.Provider)
		}
		views = append(views, viewOf(acc, cfg))
	}
	return views, nil
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return View{}, err
	}
	cfg, err := s.creds.Open(acc.Config)
	if err != nil {
		return View{}, fmt.Errorf("opening config of account %s: %w", id, err)
	}
	return viewOf(*acc, cfg), nil
}

// Update applies p. Settings changes are re-encrypted; tokens are kept,
// including one refreshed while the update runs.
func (s *Service) Update(ctx context.Context, id string, p Patch) (View, error) {
	var (
		updated model.Account
		cfg     model.AccountConfig
	)
	err := s.store.ModifyAccount(ctx, id, func(acc *model.Account) error {
		var err error
		cfg, err = s.creds.Open(acc.Config)
		if err != nil {
			return fmt.Errorf("opening config of account %s: %w", id, err)
		}
		applyPatch(acc, &cfg, p)
		if err := cfg.Validate(); err != nil {
			return apperr.Wrap(apperr.Invalid, err, "updating account %s", id)
		}
		acc.Config, err = s.creds.Seal(cfg)
		if err != nil {
			return err
		}
		updated = *acc
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return viewOf(updated, cfg), nil
}

func applyPatch(acc *model.Account, cfg *model.AccountConfig, p Patch) {
	if p.Name != nil && strings.TrimSpace(*p.Name) != "" {
		acc.Name = strings.TrimSpace(*p.Name)
	}
	if p.Color != nil && *p.Color != "" {
		acc.Color = *p.Color
	}
	if p.Email != nil {
		acc.Email = strings.TrimSpace(*p.Email)
		if cfg.IMAP != nil {
			cfg.IMAP.Username = acc.Email
		}
	}
	if p.AppPassword != nil && cfg.IMAP != nil {
		cfg.IMAP.AppPassword = *p.AppPassword
	}
	if p.SharedMailbox != nil && cfg.Graph != nil {
		cfg.Graph.SharedMailbox = strings.TrimSpace(*p.SharedMailbox)
	}
	if p.GmailAccountNumber != nil && cfg.Gmail != nil {
		cfg.Gmail.AccountNumber = *p.GmailAccountNumber
	}
}

// Delete removes the account with its cached items.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	if s.forget != nil {
		s.forget.Forget(id)
	}
	s.logger.Info("account deleted", "account", id)
	return nil
}

func viewOf(acc model.Account, cfg model.AccountConfig) View {
	v := View{
		ID:        acc.ID,
		Name:      acc.Name,
		Provider:  acc.Provider,
		Email:     acc.Email,
		Color:     acc.Color,
		HasToken:  cfg.HasToken(),
		CreatedAt: acc.CreatedAt,
	}
	if cfg.Graph != nil {
		v.SharedMailbox = cfg.Graph.SharedMailbox
	}
	if cfg.Gmail != nil {
		v.GmailAccountNumber = cfg.Gmail.AccountNumber
	}
	return v
}
