package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/crypto"
	"github.com/Azarenkov/aitu-keeper/internal/errs"
	"github.com/Azarenkov/aitu-keeper/internal/model"
	"github.com/Azarenkov/aitu-keeper/internal/provider"
	"github.com/Azarenkov/aitu-keeper/internal/repository"
)

// AccountService registers and removes accounts.
type AccountService interface {
	// Register validates token against the provider, stores the account and back-fills
	// its snapshot. An empty deviceToken registers the account without notifications.
	Register(ctx context.Context, token, deviceToken string) error
	// Remove deletes the account and its snapshot.
	Remove(ctx context.Context, token string) error
}

type AccountServiceImpl struct {
	accounts repository.AccountRepository
	provider provider.Provider
	sync     NotificationService
	log      *zap.Logger
}

var _ AccountService = (*AccountServiceImpl)(nil)

// NewAccountService constructs AccountService.
func NewAccountService(accounts repository.AccountRepository, p provider.Provider, sync NotificationService, log *zap.Logger) *AccountServiceImpl {
	return &AccountServiceImpl{accounts: accounts, provider: p, sync: sync, log: log}
}

// Register rejects duplicates before calling the provider.
// A back-fill failure is returned but leaves the account registered; the scheduler retries it.
func (s *AccountServiceImpl) Register(ctx context.Context, token, deviceToken string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("validation: empty token")
	}

	exists, err := s.accounts.Exists(ctx, token)
	if err != nil {
		return err
	}
	if exists {
		return errs.ErrAlreadyExists
	}
	if err := s.provider.ValidateToken(ctx, token); err != nil {
		return fmt.Errorf("validate token: %w", err)
	}

	acc := model.Account{ID: token}
	if dt := strings.TrimSpace(deviceToken); dt != "" {
		acc.DeviceToken = &dt
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return err
	}
	s.log.Info("account registered",
		zap.String("account", crypto.Fingerprint(token)),
		zap.Bool("notify", acc.HasDevice()),
	)

	if err := s.sync.Resync(ctx, token); err != nil {
		return fmt.Errorf("back-fill snapshot: %w", err)
	}
	return nil
}

// Remove deletes the account row.
func (s *AccountServiceImpl) Remove(ctx context.Context, token string) error {
	if err := s.accounts.Delete(ctx, strings.TrimSpace(token)); err != nil {
		return err
	}
	s.log.Info("account removed", zap.String("account", crypto.Fingerprint(token)))
	return nil
}
