package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
)

// newTestRepository подключается к БД из TEST_DATABASE_URI. Без переменной
// окружения тесты хранилища пропускаются: им нужен живой PostgreSQL.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

// createTestUser создаёт пользователя с уникальным логином для изоляции прогонов.
func createTestUser(t *testing.T, repo *PostgresRepository) int64 {
	t.Helper()

	login := fmt.Sprintf("user-%d", time.Now().UnixNano())
	id, err := repo.CreateUser(context.Background(), login, []byte("test-hash"))
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func testPayment(userID int64, sessionID, eventID string) model.Payment {
	return model.Payment{
		SessionID:   sessionID,
		EventID:     eventID,
		UserID:      &userID,
		BundleID:    "starter",
		Credits:     2,
		AmountTotal: 499,
		Currency:    "eur",
	}
}

func TestApplyCheckoutCompleted_GrantsOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	sessionID := fmt.Sprintf("cs_%d", time.Now().UnixNano())
	eventID := fmt.Sprintf("evt_%d", time.Now().UnixNano())

	balance, err := repo.ApplyCheckoutCompleted(ctx, eventID, []byte(`{}`), testPayment(userID, sessionID, eventID))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if balance != 2 {
		t.Fatalf("balance after grant = %d, want 2", balance)
	}

	// Повторная доставка того же события не должна начислять второй раз.
	_, err = repo.ApplyCheckoutCompleted(ctx, eventID, []byte(`{}`), testPayment(userID, sessionID, eventID))
	if !errors.Is(err, ErrEventAlreadyProcessed) {
		t.Fatalf("second delivery: expected ErrEventAlreadyProcessed, got %v", err)
	}

	got, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got != 2 {
		t.Fatalf("balance after duplicate = %d, want 2", got)
	}

	txs, err := repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(txs))
	}
	if txs[0].Amount != 2 || txs[0].Type != model.TransactionPurchase {
		t.Fatalf("unexpected ledger row: %+v", txs[0])
	}
}

func TestApplyCheckoutCompleted_SameSessionNewEventID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	sessionID := fmt.Sprintf("cs_%d", time.Now().UnixNano())
	firstEvent := fmt.Sprintf("evt_%d_a", time.Now().UnixNano())
	secondEvent := fmt.Sprintf("evt_%d_b", time.Now().UnixNano())

	if _, err := repo.ApplyCheckoutCompleted(ctx, firstEvent, []byte(`{}`), testPayment(userID, sessionID, firstEvent)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Та же сессия под новым event_id: оплата уже учтена, доставка подтверждается.
	_, err := repo.ApplyCheckoutCompleted(ctx, secondEvent, []byte(`{}`), testPayment(userID, sessionID, secondEvent))
	if !errors.Is(err, ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}

	got, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got != 2 {
		t.Fatalf("balance = %d, want 2", got)
	}

	txs, err := repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(txs))
	}
}

func TestConsumeCredits_InsufficientBalanceUnchanged(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)

	// Свежий пользователь: списание при нулевом балансе.
	_, err := repo.ConsumeCredits(ctx, userID, 1, nil)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("consume at zero: expected ErrInsufficientCredits, got %v", err)
	}

	if _, err := repo.AddCredits(ctx, userID, 1, model.TransactionAdminAdjustment, nil); err != nil {
		t.Fatalf("add credits: %v", err)
	}

	_, err = repo.ConsumeCredits(ctx, userID, 2, nil)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("consume above balance: expected ErrInsufficientCredits, got %v", err)
	}

	got, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got != 1 {
		t.Fatalf("balance = %d, want 1 (unchanged)", got)
	}

	txs, err := repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("failed consumption must not leave ledger rows, got %d", len(txs))
	}
}

func TestAddCredits_AdjustmentBelowZeroRejected(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)

	_, err := repo.AddCredits(ctx, userID, -5, model.TransactionAdminAdjustment, nil)
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	got, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}

	txs, err := repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("failed adjustment must not leave ledger rows, got %d", len(txs))
	}
}

func TestBalanceMatchesLedgerSum(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)
	sessionID := fmt.Sprintf("cs_%d", time.Now().UnixNano())
	eventID := fmt.Sprintf("evt_%d", time.Now().UnixNano())

	if _, err := repo.ApplyCheckoutCompleted(ctx, eventID, []byte(`{}`), testPayment(userID, sessionID, eventID)); err != nil {
		t.Fatalf("apply checkout: %v", err)
	}
	if _, err := repo.AddCredits(ctx, userID, 5, model.TransactionAdminAdjustment, nil); err != nil {
		t.Fatalf("add credits: %v", err)
	}
	if _, err := repo.ConsumeCredits(ctx, userID, 3, nil); err != nil {
		t.Fatalf("consume credits: %v", err)
	}

	balance, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}

	txs, err := repo.GetTransactionsByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}

	var sum int64
	for _, tx := range txs {
		sum += tx.Amount
	}
	if sum != balance {
		t.Fatalf("ledger sum = %d, balance = %d: must be equal", sum, balance)
	}
	if balance != 4 {
		t.Fatalf("balance = %d, want 4", balance)
	}
}

func TestRecordCouponUsage_SingleUseConcurrent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	userID := createTestUser(t, repo)

	couponID, err := repo.CreateCoupon(ctx, model.Coupon{
		Code:             fmt.Sprintf("ONCE%d", time.Now().UnixNano()),
		DiscountType:     model.DiscountPercentage,
		DiscountValue:    10,
		Active:           true,
		SingleUsePerUser: true,
	})
	if err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	usage := model.CouponUsage{
		CouponID:       couponID,
		UserID:         userID,
		DiscountAmount: 50,
		Currency:       "eur",
	}

	// Две параллельные записи для одноразового купона: уникальный индекс
	// usage_key должен пропустить ровно одну.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.RecordCouponUsage(ctx, usage, true)
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrCouponAlreadyUsed):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("succeeded = %d, rejected = %d, want exactly one of each", succeeded, rejected)
	}

	count, err := repo.CountCouponUsage(ctx, couponID)
	if err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if count != 1 {
		t.Fatalf("usage rows = %d, want 1", count)
	}
}
