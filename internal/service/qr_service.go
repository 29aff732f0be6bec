package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/config"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"
	"coffeeshop/pkg/money"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// QRService issues single-use top-up tokens and redeems them into the ledger.
type QRService struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             *config.Config
	balance         *BalanceService
	tokenRepo       *repository.QRTokenRepository
	transactionRepo *repository.TransactionRepository
	events          eventWriter
	ttl             time.Duration
	now             func() time.Time
}

func NewQRService(db *gorm.DB, cfg *config.Config, balance *BalanceService, log *zap.Logger) *QRService {
	return &QRService{
		db:              db,
		log:             log.Named("qr"),
		cfg:             cfg,
		balance:         balance,
		tokenRepo:       repository.NewQRTokenRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		events:          newEventWriter(db),
		ttl:             cfg.Business.QRTokenTTL(),
		now:             utcNow,
	}
}

type RedeemResult struct {
	Token      string `json:"token"`
	UserID     int64  `json:"user_id"`
	Amount     int64  `json:"amount"`
	NewBalance int64  `json:"new_balance"`
}

// Issue creates an active token for amount that expires after the configured TTL.
func (s *QRService) Issue(ctx context.Context, userID, amount int64) (*model.QRTopUpToken, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: top-up must be positive, got %d", ErrInvalidAmount, amount)
	}

	now := s.now()
	token := &model.QRTopUpToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Status:    model.QRTokenStatusActive,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.tokenRepo.Create(ctx, nil, token); err != nil {
		return nil, fmt.Errorf("create qr token: %w", err)
	}

	metrics.QRTokens.WithLabelValues("issued").Inc()
	s.log.Info("qr token issued",
		zap.Int64("user_id", userID),
		zap.String("amount", money.Format(amount)),
		zap.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

func (s *QRService) GetToken(ctx context.Context, token string) (*model.QRTopUpToken, error) {
	t, err := s.tokenRepo.GetByToken(ctx, nil, token)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return t, nil
}

// Redeem consumes the token and credits its amount to the owner's balance in a
// single transaction. Concurrent attempts on one token are decided by the
// conditional update in MarkRedeemed: exactly one succeeds.
func (s *QRService) Redeem(ctx context.Context, token string, staffID int64) (*RedeemResult, error) {
	now := s.now()
	var result *RedeemResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.tokenRepo.GetByToken(ctx, tx, token)
		if err != nil {
			if errors.Is(err, repository.ErrTokenNotFound) {
				return ErrTokenNotFound
			}
			return err
		}

		won, err := s.tokenRepo.MarkRedeemed(ctx, tx, token, now, staffID)
		if err != nil {
			return fmt.Errorf("mark token redeemed: %w", err)
		}
		if !won {
			return s.classifyLostRedemption(ctx, tx, token, now)
		}

		credit, err := s.balance.CreditTx(ctx, tx, t.UserID, t.Amount, model.TransactionTypeDeposit, t.Token, "QR top-up")
		if err != nil {
			return fmt.Errorf("credit qr top-up: %w", err)
		}

		err = s.events.write(ctx, tx, s.cfg.Kafka.Topic.BalanceEvents, model.EventBalanceToppedUp, t.Token, map[string]interface{}{
			"token":       t.Token,
			"user_id":     t.UserID,
			"amount":      t.Amount,
			"new_balance": credit.NewBalance,
			"redeemed_by": staffID,
			"redeemed_at": now.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}

		result = &RedeemResult{Token: t.Token, UserID: t.UserID, Amount: t.Amount, NewBalance: credit.NewBalance}
		return nil
	})

	switch {
	case err == nil:
		metrics.QRTokens.WithLabelValues("redeemed").Inc()
		s.log.Info("qr token redeemed",
			zap.Int64("user_id", result.UserID),
			zap.Int64("staff_id", staffID),
			zap.String("amount", money.Format(result.Amount)),
		)
		return result, nil

	case errors.Is(err, ErrTokenExpired):
		// The rejecting transaction rolled back, so flip the status separately.
		if _, expErr := s.tokenRepo.MarkExpired(ctx, nil, token, now); expErr != nil {
			s.log.Warn("mark token expired", zap.String("token", token), zap.Error(expErr))
		}
		metrics.QRTokens.WithLabelValues("rejected").Inc()
		return nil, err

	case isDomainError(err):
		metrics.QRTokens.WithLabelValues("rejected").Inc()
		return nil, err
	}

	return s.checkRedemption(ctx, token, err)
}

// classifyLostRedemption explains why the compare-and-set matched nothing. The
// re-read locks so it sees the winner's commit, not this transaction's snapshot.
func (s *QRService) classifyLostRedemption(ctx context.Context, tx *gorm.DB, token string, now time.Time) error {
	current, err := s.tokenRepo.GetByTokenForUpdate(ctx, tx, token)
	if err != nil {
		return err
	}
	switch {
	case current.Status == model.QRTokenStatusRedeemed:
		return fmt.Errorf("%w: at %v", ErrTokenAlreadyRedeemed, current.RedeemedAt)
	case current.Status == model.QRTokenStatusExpired, current.IsExpiredAt(now):
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, current.ExpiresAt.Format(time.RFC3339))
	}
	return fmt.Errorf("%w: token in status %s", ErrConcurrentModification, current.Status)
}

// checkRedemption runs after the redemption transaction failed for a
// non-business reason. If the token nevertheless ended up redeemed without a
// deposit entry, money was taken in at the till but never credited: that needs
// an operator.
func (s *QRService) checkRedemption(ctx context.Context, token string, cause error) (*RedeemResult, error) {
	t, err := s.tokenRepo.GetByToken(ctx, nil, token)
	if err != nil {
		s.log.Error("qr redemption failed and token state unreadable",
			zap.String("token", token), zap.NamedError("cause", cause), zap.Error(err))
		return nil, fmt.Errorf("%w: token %s: %v", ErrReconciliationRequired, token, cause)
	}
	if t.Status != model.QRTokenStatusRedeemed {
		return nil, fmt.Errorf("redeem qr token: %w", cause)
	}

	credited, err := s.transactionRepo.ExistsByReference(ctx, nil, token, model.TransactionTypeDeposit)
	if err == nil && credited {
		// The commit went through even though the driver reported an error.
		newBalance, balErr := s.balance.GetBalance(ctx, t.UserID)
		if balErr != nil {
			return nil, balErr
		}
		return &RedeemResult{Token: t.Token, UserID: t.UserID, Amount: t.Amount, NewBalance: newBalance}, nil
	}

	s.reportReconciliation(t, cause)
	return nil, fmt.Errorf("%w: token %s", ErrReconciliationRequired, token)
}

func (s *QRService) reportReconciliation(t *model.QRTopUpToken, cause error) {
	metrics.ReconciliationRequired.Inc()
	s.log.Error("qr token redeemed without balance credit",
		zap.String("token", t.Token),
		zap.Int64("user_id", t.UserID),
		zap.String("amount", money.Format(t.Amount)),
		zap.Timep("redeemed_at", t.RedeemedAt),
		zap.NamedError("cause", cause),
	)
}

// ExpireStale flips up to limit active tokens whose TTL has passed.
func (s *QRService) ExpireStale(ctx context.Context, limit int) (int64, error) {
	now := s.now()
	tokens, err := s.tokenRepo.ListExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(tokens))
	for _, t := range tokens {
		ids = append(ids, t.ID)
	}
	n, err := s.tokenRepo.ExpireByIDs(ctx, ids, now)
	if err != nil {
		return 0, err
	}
	metrics.QRTokens.WithLabelValues("expired").Add(float64(n))
	return n, nil
}

// FindUnreconciled reports redeemed tokens lacking a deposit entry.
func (s *QRService) FindUnreconciled(ctx context.Context, limit int) ([]*model.QRTopUpToken, error) {
	tokens, err := s.tokenRepo.ListRedeemedWithoutDeposit(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		s.reportReconciliation(t, ErrReconciliationRequired)
	}
	return tokens, nil
}
