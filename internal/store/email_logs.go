package store

import (
	"context"

	"checkout-service/internal/models"
)

// CreateEmailLog appends one notification attempt to the audit trail
func (s *Store) CreateEmailLog(ctx context.Context, entry *models.EmailLog) error {
	query := `
		INSERT INTO email_logs (
			order_id, recipient, email_type, subject, status,
			provider, provider_message_id, error_message, sent_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, entry, query,
		entry.OrderID, entry.Recipient, entry.EmailType, entry.Subject, entry.Status,
		entry.Provider, entry.ProviderMessageID, entry.ErrorMessage, entry.SentAt)
}

// GetEmailLogsByOrderID lists every attempt recorded for an order
func (s *Store) GetEmailLogsByOrderID(ctx context.Context, orderID string) ([]models.EmailLog, error) {
	logs := []models.EmailLog{}
	err := s.db.SelectContext(ctx, &logs,
		"SELECT * FROM email_logs WHERE order_id = $1 ORDER BY created_at", orderID)
	return logs, err
}
