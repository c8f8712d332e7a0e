package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeadRateWindow is the window of the per-IP lead capture limit
const LeadRateWindow = 15 * time.Minute

// LeadService captures and manages funnel leads
type LeadService struct {
	leads     LeadStore
	publisher EventPublisher
	notifier  Notifier
	limiter   RateLimiter
	rateLimit int
	logger    *zap.Logger
}

// NewLeadService creates a new lead service. A rateLimit of zero disables
// the per-IP limit.
func NewLeadService(leads LeadStore, publisher EventPublisher, notifier Notifier, limiter RateLimiter, rateLimit int) *LeadService {
	return &LeadService{
		leads:     leads,
		publisher: publisher,
		notifier:  notifier,
		limiter:   limiter,
		rateLimit: rateLimit,
		logger:    util.GetLogger(),
	}
}

// CaptureLeadRequest is a submission of the lead capture form
type CaptureLeadRequest struct {
	Name      string `json:"name" binding:"required,min=2,max=100"`
	Email     string `json:"email" binding:"required,email"`
	Phone     string `json:"phone" binding:"required,max=30"`
	Source    string `json:"source,omitempty" binding:"omitempty,max=50"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// CaptureLead upserts a lead by email and announces it
func (s *LeadService) CaptureLead(ctx context.Context, req *CaptureLeadRequest) (*models.Lead, error) {
	ctx, span := util.StartSpan(ctx, "LeadService.CaptureLead")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Source = strings.TrimSpace(req.Source)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if err := s.checkRateLimit(ctx, req.IPAddress); err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = "organic"
	}

	lead := &models.Lead{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		Source:    source,
	}
	if err := s.leads.UpsertLead(ctx, lead); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to save lead: %w", err)
	}

	util.LeadsCapturedTotal.Inc()
	s.logger.Info("Lead captured",
		zap.String("lead_id", lead.ID),
		zap.String("source", lead.Source))

	event := &models.LeadCapturedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeLeadCaptured,
			Timestamp: time.Now(),
		},
		LeadID: lead.ID,
		Name:   lead.Name,
		Email:  lead.Email,
		Phone:  lead.Phone,
		Source: lead.Source,
	}
	if err := s.publisher.PublishLeadCaptured(ctx, event); err != nil {
		s.logger.Error("Failed to publish LeadCaptured event, notifying directly",
			zap.String("lead_id", lead.ID),
			zap.Error(err))
		s.notifyLead(ctx, lead)
	}

	return lead, nil
}

func (s *LeadService) checkRateLimit(ctx context.Context, ip string) error {
	if s.limiter == nil || s.rateLimit <= 0 || ip == "" {
		return nil
	}

	allowed, err := s.limiter.Allow(ctx, "leads:"+ip, s.rateLimit, LeadRateWindow)
	if err != nil {
		s.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
		return nil
	}
	if !allowed {
		s.logger.Warn("Lead capture rate limited", zap.String("ip", ip))
		return &Error{Kind: KindRateLimited, Message: "too many submissions, please try again later"}
	}
	return nil
}

// HandleLeadCaptured sends the admin lead notification for a consumed event.
// Send failures are already in the email log and are not redelivered.
func (s *LeadService) HandleLeadCaptured(ctx context.Context, event *models.LeadCapturedEvent) error {
	lead := &models.Lead{
		ID:     event.LeadID,
		Name:   event.Name,
		Email:  event.Email,
		Phone:  event.Phone,
		Source: event.Source,
	}
	s.notifyLead(ctx, lead)
	return nil
}

func (s *LeadService) notifyLead(ctx context.Context, lead *models.Lead) {
	if err := s.notifier.SendLeadCaptureNotification(ctx, lead); err != nil {
		s.logger.Warn("Notification failed",
			zap.String("lead_id", lead.ID),
			zap.String("email_type", string(models.EmailTypeLeadCapture)),
			zap.Error(&Error{Kind: KindNotification, Message: "notification failed", Err: err}))
	}
}

// GetLead retrieves a lead by id
func (s *LeadService) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	lead, err := s.leads.GetLeadByID(ctx, id)
	if err != nil {
		return nil, lookupError("lead", id, err)
	}
	return lead, nil
}

// LeadList is one page of leads
type LeadList struct {
	Leads []models.Lead `json:"leads"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Pages int           `json:"pages"`
}

// ListLeads returns a page of leads, newest first
func (s *LeadService) ListLeads(ctx context.Context, filter models.LeadFilter) (*LeadList, error) {
	leads, total, err := s.leads.ListLeads(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	return &LeadList{
		Leads: leads,
		Total: total,
		Page:  page,
		Limit: limit,
		Pages: (total + limit - 1) / limit,
	}, nil
}

// DeleteLead removes a lead
func (s *LeadService) DeleteLead(ctx context.Context, id string) error {
	if err := s.leads.DeleteLead(ctx, id); err != nil {
		if errors.Is(err, models.ErrInUse) {
			return &Error{Kind: KindInvalidTransition, Message: "lead has orders and cannot be deleted", Err: err}
		}
		return lookupError("lead", id, err)
	}
	s.logger.Info("Lead deleted", zap.String("lead_id", id))
	return nil
}
