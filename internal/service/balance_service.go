package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"
	"coffeeshop/pkg/idgen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BalanceService is the balance ledger. Every mutation locks the user's balance
// row, updates it, and appends a BalanceTransaction in the same transaction.
type BalanceService struct {
	db              *gorm.DB
	log             *zap.Logger
	balanceRepo     *repository.BalanceRepository
	transactionRepo *repository.TransactionRepository
	now             func() time.Time
}

func NewBalanceService(db *gorm.DB, log *zap.Logger) *BalanceService {
	return &BalanceService{
		db:              db,
		log:             log.Named("balance"),
		balanceRepo:     repository.NewBalanceRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		now:             utcNow,
	}
}

type LedgerResult struct {
	NewBalance int64
	Entry      *model.BalanceTransaction
}

type LedgerAudit struct {
	UserID        int64
	StoredBalance int64
	LedgerSum     int64
	EntryCount    int
	// FirstMismatchID is the first entry whose BalanceAfter disagrees with the
	// running sum, or 0.
	FirstMismatchID int64
}

func (a *LedgerAudit) Consistent() bool {
	return a.StoredBalance == a.LedgerSum && a.FirstMismatchID == 0
}

// GetBalance returns 0 for users that never had a balance change.
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return balance.Balance, nil
}

func (s *BalanceService) Credit(ctx context.Context, userID, amount int64, txnType, reference, description string) (*LedgerResult, error) {
	var result *LedgerResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.CreditTx(ctx, tx, userID, amount, txnType, reference, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BalanceService) Debit(ctx context.Context, userID, amount int64, reference, description string) (*LedgerResult, error) {
	var result *LedgerResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.DebitTx(ctx, tx, userID, amount, reference, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreditTx increases the balance inside the caller's transaction. txnType must
// be deposit or refund.
func (s *BalanceService) CreditTx(ctx context.Context, tx *gorm.DB, userID, amount int64, txnType, reference, description string) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: credit must be positive, got %d", ErrInvalidAmount, amount)
	}
	if !model.IsCreditType(txnType) {
		return nil, fmt.Errorf("%w: %q is not a credit type", ErrInvalidRequest, txnType)
	}

	balance, err := s.balanceRepo.GetOrCreateForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	if err := s.balanceRepo.Increase(ctx, tx, userID, amount, balance.Version); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return nil, fmt.Errorf("%w: balance of user %d", ErrConcurrentModification, userID)
		}
		return nil, fmt.Errorf("increase balance: %w", err)
	}

	return s.appendEntry(ctx, tx, balance, amount, txnType, reference, description)
}

// DebitTx decreases the balance inside the caller's transaction.
func (s *BalanceService) DebitTx(ctx context.Context, tx *gorm.DB, userID, amount int64, reference, description string) (*LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: debit must be positive, got %d", ErrInvalidAmount, amount)
	}

	balance, err := s.balanceRepo.GetOrCreateForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	if balance.Balance < amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance.Balance, amount)
	}

	if err := s.balanceRepo.Deduct(ctx, tx, userID, amount, balance.Version); err != nil {
		switch {
		case errors.Is(err, repository.ErrBalanceNotEnough):
			return nil, fmt.Errorf("%w: need %d", ErrInsufficientBalance, amount)
		case errors.Is(err, repository.ErrOptimisticLock):
			return nil, fmt.Errorf("%w: balance of user %d", ErrConcurrentModification, userID)
		}
		return nil, fmt.Errorf("deduct balance: %w", err)
	}

	return s.appendEntry(ctx, tx, balance, -amount, model.TransactionTypeWithdrawal, reference, description)
}

func (s *BalanceService) appendEntry(ctx context.Context, tx *gorm.DB, before *model.UserBalance, delta int64, txnType, reference, description string) (*LedgerResult, error) {
	entry := &model.BalanceTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        before.UserID,
		Type:          txnType,
		Amount:        delta,
		BalanceBefore: before.Balance,
		BalanceAfter:  before.Balance + delta,
		Reference:     reference,
		Description:   description,
		CreatedAt:     s.now(),
	}
	if err := s.transactionRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	s.log.Debug("ledger entry appended",
		zap.Int64("user_id", entry.UserID),
		zap.String("type", txnType),
		zap.Int64("amount", delta),
		zap.Int64("balance_after", entry.BalanceAfter),
		zap.String("reference", reference),
	)

	return &LedgerResult{NewBalance: entry.BalanceAfter, Entry: entry}, nil
}

func (s *BalanceService) ListHistory(ctx context.Context, userID int64, page, pageSize int) ([]*model.BalanceTransaction, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// VerifyLedger replays the user's ledger and compares it with the stored balance.
func (s *BalanceService) VerifyLedger(ctx context.Context, userID int64) (*LedgerAudit, error) {
	audit := &LedgerAudit{UserID: userID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.balanceRepo.GetByUserID(ctx, tx, userID)
		switch {
		case err == nil:
			audit.StoredBalance = stored.Balance
		case errors.Is(err, repository.ErrBalanceNotFound):
		default:
			return err
		}

		entries, err := s.transactionRepo.ListAllByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		audit.EntryCount = len(entries)
		for _, e := range entries {
			audit.LedgerSum += e.Amount
			if audit.FirstMismatchID == 0 && e.BalanceAfter != audit.LedgerSum {
				audit.FirstMismatchID = e.ID
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !audit.Consistent() {
		s.log.Error("ledger inconsistent",
			zap.Int64("user_id", userID),
			zap.Int64("stored_balance", audit.StoredBalance),
			zap.Int64("ledger_sum", audit.LedgerSum),
			zap.Int64("first_mismatch_id", audit.FirstMismatchID),
		)
	}
	return audit, nil
}
