package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// UpsertLead inserts a lead or refreshes the contact details of the lead
// with the same email. The stored row (with its original id) is written
// back into lead.
func (s *Store) UpsertLead(ctx context.Context, lead *models.Lead) error {
	query := `
		INSERT INTO leads (id, name, email, phone, ip_address, user_agent, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			ip_address = EXCLUDED.ip_address,
			user_agent = EXCLUDED.user_agent,
			updated_at = NOW()
		RETURNING *`

	return s.db.GetContext(ctx, lead, query,
		lead.ID, lead.Name, lead.Email, lead.Phone, lead.IPAddress, lead.UserAgent, lead.Source)
}

// GetLeadByID retrieves a lead by ID
func (s *Store) GetLeadByID(ctx context.Context, id string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.GetContext(ctx, &lead, "SELECT * FROM leads WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lead %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// MarkLeadConverted flags the lead as a paying customer
func (s *Store) MarkLeadConverted(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE leads SET converted_to_customer = TRUE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("lead %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// DeleteLead removes a lead (admin only)
func (s *Store) DeleteLead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM leads WHERE id = $1", id)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("lead %s: %w", id, models.ErrInUse)
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("lead %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListLeads returns one page of leads, newest first, plus the total count
func (s *Store) ListLeads(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error) {
	where := ""
	var args []interface{}
	if filter.Converted != nil {
		where = " WHERE converted_to_customer = $1"
		args = append(args, *filter.Converted)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM leads"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	limit, offset := pageBounds(filter.Page, filter.Limit)
	query := fmt.Sprintf("SELECT * FROM leads%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2)

	leads := []models.Lead{}
	if err := s.db.SelectContext(ctx, &leads, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}

	return leads, total, nil
}
