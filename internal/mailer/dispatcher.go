package mailer

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

//go:embed templates/*.html
var templateFS embed.FS

const provider = "smtp"

// Sender delivers composed messages
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// LogStore records every send attempt
type LogStore interface {
	CreateEmailLog(ctx context.Context, entry *models.EmailLog) error
}

// Config holds sender identity and link targets
type Config struct {
	From         string
	FromName     string
	AdminEmail   string
	SupportEmail string
	FrontendURL  string
}

// Dispatcher renders and sends the transactional emails of the funnel
type Dispatcher struct {
	sender    Sender
	logs      LogStore
	cfg       Config
	templates *template.Template
	now       func() time.Time
	logger    *zap.Logger
}

// NewSMTPSender returns a gomail dialer; port 465 uses implicit TLS
func NewSMTPSender(host string, port int, user, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, user, password)
}

// NewDispatcher parses the embedded templates and creates a dispatcher
func NewDispatcher(sender Sender, logs LogStore, cfg Config) (*Dispatcher, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if cfg.SupportEmail == "" {
		cfg.SupportEmail = cfg.AdminEmail
	}

	return &Dispatcher{
		sender:    sender,
		logs:      logs,
		cfg:       cfg,
		templates: tmpl,
		now:       time.Now,
		logger:    util.GetLogger(),
	}, nil
}

type emailData struct {
	Order        *models.Order
	Lead         *models.Lead
	Split        bool
	Amount       string
	SecondAmount string
	Total        string
	DueDate      string
	PlanLabel    string
	TutorialURL  string
	ErrorMessage string
	CapturedAt   string
	SupportEmail string
	FrontendURL  string
	Year         int
}

type envelope struct {
	emailType models.EmailType
	orderID   string
	to        string
	replyTo   string
	subject   string
	template  string
}

// SendCustomerConfirmation welcomes a buyer after the first payment
func (d *Dispatcher) SendCustomerConfirmation(ctx context.Context, order *models.Order, lead *models.Lead) error {
	return d.send(ctx, envelope{
		emailType: models.EmailTypeConfirmation,
		orderID:   order.OrderID,
		to:        lead.Email,
		replyTo:   d.cfg.AdminEmail,
		subject:   fmt.Sprintf("Welcome to MiddlemanCEO! 🎉 Order #%s", order.OrderID),
		template:  "customer_confirmation.html",
	}, d.orderData(order, lead, ""))
}

// SendAdminNotification tells the business about a new paid order
func (d *Dispatcher) SendAdminNotification(ctx context.Context, order *models.Order, lead *models.Lead) error {
	return d.send(ctx, envelope{
		emailType: models.EmailTypeNotification,
		orderID:   order.OrderID,
		to:        d.cfg.AdminEmail,
		replyTo:   lead.Email,
		subject:   fmt.Sprintf("New Order: %s - %s", order.ProgramName, lead.Name),
		template:  "admin_notification.html",
	}, d.orderData(order, lead, ""))
}

// SendLeadCaptureNotification tells the business about a new lead
func (d *Dispatcher) SendLeadCaptureNotification(ctx context.Context, lead *models.Lead) error {
	data := d.baseData()
	data.Lead = lead
	data.CapturedAt = d.now().UTC().Format("Jan 2, 2006 15:04 MST")

	return d.send(ctx, envelope{
		emailType: models.EmailTypeLeadCapture,
		to:        d.cfg.AdminEmail,
		replyTo:   lead.Email,
		subject:   fmt.Sprintf("🎯 New Lead: %s", lead.Name),
		template:  "lead_capture.html",
	}, data)
}

// SendSecondPaymentConfirmation confirms the second installment was collected
func (d *Dispatcher) SendSecondPaymentConfirmation(ctx context.Context, order *models.Order, lead *models.Lead) error {
	return d.send(ctx, envelope{
		emailType: models.EmailTypeSecondPayment,
		orderID:   order.OrderID,
		to:        lead.Email,
		replyTo:   d.cfg.SupportEmail,
		subject:   fmt.Sprintf("Second Payment Received - Order #%s ✅", order.OrderID),
		template:  "second_payment_confirmation.html",
	}, d.orderData(order, lead, ""))
}

// SendSecondPaymentFailed asks the customer to fix their payment method
func (d *Dispatcher) SendSecondPaymentFailed(ctx context.Context, order *models.Order, lead *models.Lead, errorMessage string) error {
	return d.send(ctx, envelope{
		emailType: models.EmailTypePaymentFailed,
		orderID:   order.OrderID,
		to:        lead.Email,
		replyTo:   d.cfg.SupportEmail,
		subject:   fmt.Sprintf("Payment Failed - Action Required - Order #%s ⚠️", order.OrderID),
		template:  "second_payment_failed.html",
	}, d.orderData(order, lead, errorMessage))
}

func (d *Dispatcher) baseData() emailData {
	return emailData{
		SupportEmail: d.cfg.SupportEmail,
		FrontendURL:  d.cfg.FrontendURL,
		Year:         d.now().Year(),
	}
}

func (d *Dispatcher) orderData(order *models.Order, lead *models.Lead, errorMessage string) emailData {
	data := d.baseData()
	data.Order = order
	data.Lead = lead
	data.Split = order.IsSplit()
	data.Amount = formatAmount(order.Amount)
	data.SecondAmount = formatAmount(order.SecondPaymentAmount)
	data.Total = formatAmount(order.TotalAmount)
	data.PlanLabel = "One-time"
	if data.Split {
		data.PlanLabel = "Split (2 payments)"
	}
	if order.SecondPaymentDueDate != nil {
		data.DueDate = order.SecondPaymentDueDate.Format("January 2, 2006")
	}
	data.TutorialURL = order.TutorialAccessURL
	if data.TutorialURL == "" {
		data.TutorialURL = d.cfg.FrontendURL + "/tutorial"
	}
	data.ErrorMessage = errorMessage
	return data
}

// send renders, delivers and logs one email. Every attempt produces exactly
// one EmailLog row; the delivery error is returned to the caller.
func (d *Dispatcher) send(ctx context.Context, env envelope, data emailData) error {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Send")
	defer span.End()

	entry := &models.EmailLog{
		OrderID:   env.orderID,
		Recipient: env.to,
		EmailType: env.emailType,
		Subject:   env.subject,
		Provider:  provider,
	}

	err := d.deliver(env, data, entry)
	if err != nil {
		util.RecordError(span, err)
		entry.Status = models.EmailStatusFailed
		entry.ErrorMessage = err.Error()
		d.logger.Warn("Email send failed",
			zap.String("email_type", string(env.emailType)),
			zap.String("order_id", env.orderID),
			zap.Error(err))
	} else {
		sentAt := d.now()
		entry.Status = models.EmailStatusSent
		entry.SentAt = &sentAt
		d.logger.Info("Email sent",
			zap.String("email_type", string(env.emailType)),
			zap.String("order_id", env.orderID),
			zap.String("message_id", entry.ProviderMessageID))
	}

	util.EmailsTotal.WithLabelValues(string(env.emailType), string(entry.Status)).Inc()

	if logErr := d.logs.CreateEmailLog(ctx, entry); logErr != nil {
		d.logger.Error("Failed to write email log",
			zap.String("email_type", string(env.emailType)),
			zap.Error(logErr))
	}

	return err
}

func (d *Dispatcher) deliver(env envelope, data emailData, entry *models.EmailLog) error {
	if env.to == "" {
		return fmt.Errorf("no recipient for %s email", env.emailType)
	}

	var body bytes.Buffer
	if err := d.templates.ExecuteTemplate(&body, env.template, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", env.template, err)
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), senderDomain(d.cfg.From))

	m := gomail.NewMessage()
	m.SetAddressHeader("From", d.cfg.From, d.cfg.FromName)
	m.SetHeader("To", env.to)
	if env.replyTo != "" {
		m.SetHeader("Reply-To", env.replyTo)
	}
	m.SetHeader("Subject", env.subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", body.String())

	if err := d.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email via SMTP: %w", err)
	}

	entry.ProviderMessageID = messageID
	return nil
}

func formatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

func senderDomain(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "localhost"
}
