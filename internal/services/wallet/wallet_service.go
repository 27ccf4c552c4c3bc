package wallet

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gemxhub/backend/internal/config"
	"github.com/gemxhub/backend/internal/models"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Webhook events emitted after a ledger mutation commits
const (
	EventWalletCredited = "wallet.credited"
	EventWalletDebited  = "wallet.debited"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var customCurrencyPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)

// Notifier receives ledger events once they are durable
type Notifier interface {
	Notify(event string, data interface{})
}

// Service is the wallet ledger. Every balance change and its transaction
// record are written in one database transaction.
type Service struct {
	db       *gorm.DB
	cfg      config.WalletConfig
	notifier Notifier
}

// NewService creates a new wallet service. notifier may be nil.
func NewService(db *gorm.DB, cfg config.WalletConfig, notifier Notifier) *Service {
	return &Service{db: db, cfg: cfg, notifier: notifier}
}

// CreditRequest describes a credit. ServiceName is set for calls coming
// through the internal API and drives attribution.
type CreditRequest struct {
	UserID      uint
	Currency    string
	Amount      int64
	Description string
	ReferenceID string
	ServiceName string
}

// DebitRequest describes a debit
type DebitRequest struct {
	UserID      uint
	Currency    string
	Amount      int64
	Description string
	ReferenceID string
	ServiceName string
}

// Event is the webhook payload for wallet.credited and wallet.debited
type Event struct {
	TransactionID uint    `json:"transactionId"`
	UserID        uint    `json:"userId"`
	Currency      string  `json:"currency"`
	Amount        int64   `json:"amount"`
	Balance       int64   `json:"balance"`
	ReferenceID   *string `json:"referenceId"`
	ServiceName   string  `json:"serviceName,omitempty"`
}

// NormalizeCurrency canonicalises a currency name and checks it is allowed
func (s *Service) NormalizeCurrency(raw string) (string, error) {
	currency := slug.Make(strings.TrimSpace(raw))
	if currency == "" {
		return "", apperror.BadRequest("currency is required")
	}
	if _, ok := s.cfg.Currencies[currency]; ok {
		return currency, nil
	}
	if s.cfg.AllowCustom && customCurrencyPattern.MatchString(currency) {
		return currency, nil
	}
	return "", apperror.BadRequest(fmt.Sprintf("unsupported currency %q", raw))
}

// FormatAmount renders base units using the currency's configured decimals
func (s *Service) FormatAmount(currency string, amount int64) string {
	decimals := s.cfg.Currencies[currency].Decimals
	return decimal.New(amount, -decimals).StringFixed(decimals)
}

// GetBalance returns the balance of every configured currency (0 when the
// wallet does not exist yet) plus any custom currency the user holds.
func (s *Service) GetBalance(ctx context.Context, userID uint) (map[string]int64, error) {
	balances := make(map[string]int64, len(s.cfg.Currencies))
	for currency := range s.cfg.Currencies {
		balances[currency] = 0
	}

	var wallets []models.Wallet
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&wallets).Error; err != nil {
		return nil, apperror.Internal("error finding wallets", err)
	}
	for _, w := range wallets {
		balances[w.Currency] = w.Balance
	}

	return balances, nil
}

// GetTransactions returns one page of a user's ledger, newest first.
// An empty currency lists every wallet.
func (s *Service) GetTransactions(ctx context.Context, userID uint, currency string, page, limit int) (*TransactionPage, error) {
	if page < 1 {
		return nil, apperror.BadRequest("page must be at least 1")
	}
	if limit < 1 || limit > MaxPageSize {
		return nil, apperror.BadRequest(fmt.Sprintf("limit must be between 1 and %d", MaxPageSize))
	}
	if currency != "" {
		normalized, err := s.NormalizeCurrency(currency)
		if err != nil {
			return nil, err
		}
		currency = normalized
	}

	query := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
			Joins("JOIN wallets ON wallets.id = wallet_transactions.wallet_id").
			Where("wallets.user_id = ?", userID)
		if currency != "" {
			q = q.Where("wallets.currency = ?", currency)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, apperror.Internal("error counting transactions", err)
	}

	var entries []models.WalletTransaction
	err := query().
		Preload("Wallet").
		Order("wallet_transactions.created_at DESC, wallet_transactions.id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, apperror.Internal("error finding transactions", err)
	}

	result := &TransactionPage{
		Transactions: make([]PublicTransaction, 0, len(entries)),
		Pagination:   Pagination{Total: total, Page: page, Limit: limit},
	}
	for _, entry := range entries {
		result.Transactions = append(result.Transactions, s.Public(entry))
	}
	return result, nil
}

// Credit adds funds, creating the wallet on first use
func (s *Service) Credit(ctx context.Context, req CreditRequest) (*models.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, apperror.InvalidAmount("amount must be a positive integer")
	}
	currency, err := s.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	var entry models.WalletTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet := models.Wallet{UserID: req.UserID, Currency: currency, Balance: req.Amount}
		err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":    gorm.Expr("wallets.balance + ?", req.Amount),
				"updated_at": time.Now(),
			}),
		}).Create(&wallet).Error
		if err != nil {
			return apperror.FromDB(err, "user not found")
		}

		// the upsert does not reliably hand back the merged row
		if err := tx.Where("user_id = ? AND currency = ?", req.UserID, currency).First(&wallet).Error; err != nil {
			return apperror.FromDB(err, "wallet not found")
		}

		entry = newEntry(wallet, models.TransactionTypeCredit, req.Amount, req.Description, req.ReferenceID, req.ServiceName)
		if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
			return apperror.Internal("error creating transaction record", err)
		}
		entry.Wallet = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(EventWalletCredited, entry, req.UserID, req.ServiceName)
	return &entry, nil
}

// Debit removes funds. The wallet must exist and hold at least Amount.
func (s *Service) Debit(ctx context.Context, req DebitRequest) (*models.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, apperror.InvalidAmount("amount must be a positive integer")
	}
	currency, err := s.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	var entry models.WalletTransaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.Wallet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND currency = ?", req.UserID, currency).
			First(&wallet).Error
		if err != nil {
			return apperror.FromDB(err, "wallet not found")
		}
		if wallet.Balance < req.Amount {
			return apperror.InsufficientBalance("insufficient balance")
		}

		res := tx.Model(&models.Wallet{}).
			Where("id = ? AND balance >= ?", wallet.ID, req.Amount).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", req.Amount),
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return apperror.Internal("error updating wallet balance", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperror.InsufficientBalance("insufficient balance")
		}
		wallet.Balance -= req.Amount

		entry = newEntry(wallet, models.TransactionTypeDebit, -req.Amount, req.Description, req.ReferenceID, req.ServiceName)
		if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
			return apperror.Internal("error creating transaction record", err)
		}
		entry.Wallet = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(EventWalletDebited, entry, req.UserID, req.ServiceName)
	return &entry, nil
}

// GetTransactionByReference finds the newest transaction whose reference
// contains reference. Returns nil when nothing matches.
func (s *Service) GetTransactionByReference(ctx context.Context, currency string, txType models.TransactionType, reference string, userID *uint) (*AuditTransaction, error) {
	currency, err := s.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	if !txType.Valid() {
		return nil, apperror.BadRequest("transactionType must be CREDIT or DEBIT")
	}
	if strings.TrimSpace(reference) == "" {
		return nil, apperror.BadRequest("referenceId is required")
	}

	q := s.db.WithContext(ctx).
		Joins("JOIN wallets ON wallets.id = wallet_transactions.wallet_id").
		Preload("Wallet").
		Where("wallets.currency = ?", currency).
		Where("wallet_transactions.type = ?", txType).
		Where(`wallet_transactions.reference_id LIKE ? ESCAPE '\'`, "%"+escapeLike(reference)+"%")
	if userID != nil {
		q = q.Where("wallets.user_id = ?", *userID)
	}

	var entries []models.WalletTransaction
	err = q.Order("wallet_transactions.created_at DESC, wallet_transactions.id DESC").
		Limit(1).
		Find(&entries).Error
	if err != nil {
		return nil, apperror.Internal("error finding transaction", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	audit := s.Audit(entries[0])
	return &audit, nil
}

// LedgerMismatch is a wallet whose balance differs from its transaction sum
type LedgerMismatch struct {
	WalletID uint   `json:"walletId"`
	UserID   uint   `json:"userId"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
	Ledger   int64  `json:"ledger"`
}

// FindLedgerMismatches compares every wallet balance with the signed sum of
// its transactions
func (s *Service) FindLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	var mismatches []LedgerMismatch
	err := s.db.WithContext(ctx).
		Table("wallets").
		Select("wallets.id AS wallet_id, wallets.user_id, wallets.currency, wallets.balance, COALESCE(SUM(wallet_transactions.amount), 0) AS ledger").
		Joins("LEFT JOIN wallet_transactions ON wallet_transactions.wallet_id = wallets.id").
		Group("wallets.id, wallets.user_id, wallets.currency, wallets.balance").
		Having("wallets.balance <> COALESCE(SUM(wallet_transactions.amount), 0)").
		Scan(&mismatches).Error
	if err != nil {
		return nil, fmt.Errorf("error auditing ledger: %w", err)
	}
	return mismatches, nil
}

func newEntry(wallet models.Wallet, txType models.TransactionType, amount int64, description, reference, serviceName string) models.WalletTransaction {
	entry := models.WalletTransaction{
		WalletID:    wallet.ID,
		Type:        txType,
		Amount:      amount,
		Description: description,
	}
	if serviceName != "" {
		notes := "via " + serviceName
		entry.InternalNotes = &notes
	}
	if reference != "" {
		if serviceName != "" {
			reference = serviceName + ":" + reference
		}
		entry.ReferenceID = &reference
	}
	return entry
}

func (s *Service) notify(event string, entry models.WalletTransaction, userID uint, serviceName string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(event, Event{
		TransactionID: entry.ID,
		UserID:        userID,
		Currency:      entry.Wallet.Currency,
		Amount:        entry.Amount,
		Balance:       entry.Wallet.Balance,
		ReferenceID:   entry.ReferenceID,
		ServiceName:   serviceName,
	})
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
