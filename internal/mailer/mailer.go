package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"time"

	"eventix/models"

	"github.com/pocketbase/pocketbase/tools/mailer"
	"github.com/pocketbase/pocketbase/tools/template"
	"github.com/shopspring/decimal"
)

// TicketArtifact is one issued ticket as it is attached to the settlement mail.
type TicketArtifact struct {
	UUID    string
	QRPNG   []byte
	QRASCII string
	PDF     []byte
}

type TierGroup struct {
	TierName  string
	UnitPrice decimal.Decimal
	Tickets   []TicketArtifact
}

type Settlement struct {
	To              string
	Name            string
	OrderID         string
	EventTitle      string
	Location        string
	Date            time.Time
	Groups          []TierGroup
	OriginalTotal   decimal.Decimal
	WelcomeDiscount decimal.Decimal
	PointsDiscount  decimal.Decimal
	FinalAmount     decimal.Decimal
	PointsEarned    int
}

type SuspiciousActivity struct {
	To      string
	Name    string
	Message string
}

type Refund struct {
	To               string
	Name             string
	EventTitle       string
	TicketType       string
	Amount           decimal.Decimal
	Policy           models.RefundPolicy
	RemainingTickets int
}

type Config struct {
	Timeout     time.Duration
	FrontendURL string
}

// Service renders pipeline mails and hands them to the app's mail client.
type Service struct {
	newClient func() mailer.Mailer
	sender    func() mail.Address
	timeout   time.Duration
	frontend  string

	settlement *template.Renderer
	suspicious *template.Renderer
	refund     *template.Renderer
}

// New builds a mail service. newClient is usually app.NewMailClient so that
// SMTP settings changed at runtime are picked up on the next send.
func New(newClient func() mailer.Mailer, sender func() mail.Address, cfg Config) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reg := template.NewRegistry()
	return &Service{
		newClient:  newClient,
		sender:     sender,
		timeout:    timeout,
		frontend:   cfg.FrontendURL,
		settlement: reg.LoadString(settlementTpl),
		suspicious: reg.LoadString(suspiciousTpl),
		refund:     reg.LoadString(refundTpl),
	}
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

type tierView struct {
	Name      string
	Quantity  int
	UnitPrice string
	Subtotal  string
	Tickets   []ticketView
}

type ticketView struct {
	UUID  string
	ASCII string
}

func (s *Service) SendSettlement(ctx context.Context, m *Settlement) error {
	groups := make([]tierView, 0, len(m.Groups))
	attachments := make(map[string]*bytes.Reader)
	for _, g := range m.Groups {
		v := tierView{
			Name:      g.TierName,
			Quantity:  len(g.Tickets),
			UnitPrice: money(g.UnitPrice),
			Subtotal:  money(g.UnitPrice.Mul(decimal.NewFromInt(int64(len(g.Tickets))))),
		}
		for _, t := range g.Tickets {
			v.Tickets = append(v.Tickets, ticketView{UUID: t.UUID, ASCII: t.QRASCII})
			if len(t.QRPNG) > 0 {
				attachments["qr-"+t.UUID+".png"] = bytes.NewReader(t.QRPNG)
			}
			if len(t.PDF) > 0 {
				attachments["ticket-"+t.UUID+".pdf"] = bytes.NewReader(t.PDF)
			}
		}
		groups = append(groups, v)
	}

	html, err := s.settlement.Render(map[string]any{
		"name":            m.Name,
		"eventTitle":      m.EventTitle,
		"location":        m.Location,
		"date":            m.Date.Format("Monday, 02 January 2006 15:04"),
		"groups":          groups,
		"originalTotal":   money(m.OriginalTotal),
		"welcomeDiscount": money(m.WelcomeDiscount),
		"pointsDiscount":  money(m.PointsDiscount),
		"finalAmount":     money(m.FinalAmount),
		"hasDiscount":     m.WelcomeDiscount.IsPositive() || m.PointsDiscount.IsPositive(),
		"pointsEarned":    m.PointsEarned,
		"orderURL":        fmt.Sprintf("%s/purchase/success?session_id=%s", s.frontend, m.OrderID),
	})
	if err != nil {
		return fmt.Errorf("mailer: render settlement: %w", err)
	}

	msg := s.message(m.To, m.Name, "Your tickets for "+m.EventTitle, html)
	for name, r := range attachments {
		msg.Attachments[name] = r
	}
	return s.send(ctx, msg)
}

func (s *Service) SendSuspiciousActivity(ctx context.Context, m *SuspiciousActivity) error {
	html, err := s.suspicious.Render(map[string]any{
		"name":    m.Name,
		"message": m.Message,
	})
	if err != nil {
		return fmt.Errorf("mailer: render suspicious activity: %w", err)
	}
	return s.send(ctx, s.message(m.To, m.Name, "Suspicious activity on your account", html))
}

func (s *Service) SendRefund(ctx context.Context, m *Refund) error {
	html, err := s.refund.Render(map[string]any{
		"name":       m.Name,
		"eventTitle": m.EventTitle,
		"ticketType": m.TicketType,
		"amount":     money(m.Amount),
		"policy":     policyText(m.Policy),
		"remaining":  m.RemainingTickets,
	})
	if err != nil {
		return fmt.Errorf("mailer: render refund: %w", err)
	}
	return s.send(ctx, s.message(m.To, m.Name, "Your refund has been processed", html))
}

func policyText(p models.RefundPolicy) string {
	switch p {
	case models.FullRefund:
		return "Full refund"
	case models.PartialRefund:
		return "Partial refund"
	default:
		return "No refund"
	}
}

func (s *Service) message(to, name, subject, html string) *mailer.Message {
	return &mailer.Message{
		From:        s.sender(),
		To:          []mail.Address{{Name: name, Address: to}},
		Subject:     subject,
		HTML:        html,
		Attachments: map[string]io.Reader{},
	}
}

// send bounds the blocking SMTP call with the service timeout. The client has
// no context support, so a timed out send keeps running in the background.
func (s *Service) send(ctx context.Context, msg *mailer.Message) error {
	if len(msg.To) == 0 || msg.To[0].Address == "" {
		return fmt.Errorf("mailer: %q has no recipient", msg.Subject)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.newClient().Send(msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("mailer: send %q: %w", msg.Subject, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mailer: send %q: %w", msg.Subject, ctx.Err())
	}
}
