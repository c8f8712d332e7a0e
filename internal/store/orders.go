package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/models"
)

// CreateOrder inserts a new order and fills in its generated columns
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			order_id, lead_id, customer_name, customer_email, customer_phone,
			industry, city, program, program_name, payment_plan,
			amount, total_amount, currency, payment_status, fulfillment_status,
			first_payment_amount, first_payment_status, second_payment_amount, second_payment_status, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, order, query,
		order.OrderID, order.LeadID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.Industry, order.City, order.Program, order.ProgramName, order.PaymentPlan,
		order.Amount, order.TotalAmount, order.Currency, order.PaymentStatus, order.FulfillmentStatus,
		order.FirstPaymentAmount, order.FirstPaymentStatus, order.SecondPaymentAmount, order.SecondPaymentStatus, order.Notes)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s: %w", order.OrderID, models.ErrDuplicate)
	}
	return err
}

func (s *Store) getOrder(ctx context.Context, column, value string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE "+column+" = $1", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s=%s: %w", column, value, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByOrderID retrieves an order by its public identifier
func (s *Store) GetOrderByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return s.getOrder(ctx, "order_id", orderID)
}

// GetOrderByPaymentIntentID retrieves the order whose first intent matches
func (s *Store) GetOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	return s.getOrder(ctx, "stripe_payment_intent_id", paymentIntentID)
}

// GetOrderBySecondPaymentIntentID retrieves the order whose second installment intent matches
func (s *Store) GetOrderBySecondPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	return s.getOrder(ctx, "second_payment_intent_id", paymentIntentID)
}

// UpdateOrder writes back every mutable column of an order
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	order.UpdatedAt = time.Now()

	query := `
		UPDATE orders SET
			stripe_payment_intent_id = :stripe_payment_intent_id,
			stripe_customer_id = :stripe_customer_id,
			stripe_payment_method_id = :stripe_payment_method_id,
			second_payment_intent_id = :second_payment_intent_id,
			payment_status = :payment_status,
			fulfillment_status = :fulfillment_status,
			first_payment_date = :first_payment_date,
			first_payment_status = :first_payment_status,
			second_payment_due_date = :second_payment_due_date,
			second_payment_date = :second_payment_date,
			second_payment_status = :second_payment_status,
			second_payment_scheduled = :second_payment_scheduled,
			second_payment_scheduled_at = :second_payment_scheduled_at,
			second_payment_error = :second_payment_error,
			second_payment_retry_count = :second_payment_retry_count,
			emails_sent = :emails_sent,
			tutorial_access_granted = :tutorial_access_granted,
			tutorial_access_url = :tutorial_access_url,
			notes = :notes,
			updated_at = :updated_at
		WHERE order_id = :order_id`

	result, err := s.db.NamedExecContext(ctx, query, order)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %s: %w", order.OrderID, models.ErrNotFound)
	}
	return nil
}

// DeleteOrder removes an order (admin only)
func (s *Store) DeleteOrder(ctx context.Context, orderID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM orders WHERE order_id = $1", orderID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return nil
}

// ListOrders returns one page of orders, newest first, plus the total count
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, int, error) {
	var conditions []string
	var args []interface{}

	if filter.PaymentStatus != "" {
		args = append(args, filter.PaymentStatus)
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	if filter.PaymentPlan != "" {
		args = append(args, filter.PaymentPlan)
		conditions = append(conditions, fmt.Sprintf("payment_plan = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	limit, offset := pageBounds(filter.Page, filter.Limit)
	query := fmt.Sprintf("SELECT * FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2)

	orders := []models.Order{}
	if err := s.db.SelectContext(ctx, &orders, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, total, nil
}

// GetDueSecondPayments returns split orders whose second installment is
// still pending and fell due before the given instant
func (s *Store) GetDueSecondPayments(ctx context.Context, dueBefore time.Time) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE payment_plan = $1
			AND payment_status = $2
			AND first_payment_status = $3
			AND second_payment_status = $4
			AND second_payment_due_date < $5
		ORDER BY second_payment_due_date`,
		models.PaymentPlanSplit, models.PaymentStatusPartiallyPaid, models.InstallmentPaid, models.InstallmentPending, dueBefore)
	return orders, err
}

// MarkOverdueSecondPayments flags failed second installments of open split
// orders that are past the cutoff
func (s *Store) MarkOverdueSecondPayments(ctx context.Context, dueBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET second_payment_status = $1, updated_at = NOW()
		WHERE payment_plan = $2
			AND payment_status = $3
			AND second_payment_status = $4
			AND second_payment_due_date < $5`,
		models.InstallmentOverdue, models.PaymentPlanSplit, models.PaymentStatusPartiallyPaid, models.InstallmentFailed, dueBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
