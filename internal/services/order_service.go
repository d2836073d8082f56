package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"eventix/internal/intent"
	"eventix/internal/services/processor"
	"eventix/internal/status"
	"eventix/internal/ticketart"
	"eventix/models"

	"github.com/shopspring/decimal"
)

type OrderTicket struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	QRCodeURL  string    `json:"qrCodeUrl"`
	PDFURL     string    `json:"pdfUrl"`
	TicketUUID string    `json:"ticketUuid"`
}

type OrderItem struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Tickets  []OrderTicket   `json:"tickets"`
}

type Order struct {
	OrderID            string          `json:"orderId"`
	Date               time.Time       `json:"date"`
	Email              string          `json:"email"`
	Event              *models.Event   `json:"event"`
	Items              []*OrderItem    `json:"items"`
	Total              decimal.Decimal `json:"total"`
	OriginalTotal      decimal.Decimal `json:"originalTotal"`
	WelcomeDiscount    decimal.Decimal `json:"welcomeDiscount"`
	PointsDiscount     decimal.Decimal `json:"pointsDiscount"`
	FinalAmount        decimal.Decimal `json:"finalAmount"`
	WasDiscountApplied bool            `json:"wasDiscountApplied"`
	PointsEarned       int             `json:"pointsEarned"`
}

type TicketView struct {
	*models.Ticket
	EventTitle string `json:"eventTitle"`
	TierName   string `json:"tierName"`
	PDFURL     string `json:"pdfUrl"`
}

type TicketYear struct {
	Year    int           `json:"year"`
	Tickets []*TicketView `json:"tickets"`
}

type OrderService struct {
	store           Store
	processor       processor.Processor
	pointsPerTicket int
}

func NewOrderService(store Store, proc processor.Processor, pointsPerTicket int) *OrderService {
	if pointsPerTicket <= 0 {
		pointsPerTicket = 10
	}
	return &OrderService{store: store, processor: proc, pointsPerTicket: pointsPerTicket}
}

func pdfURL(ticketUUID string) string {
	return "/api/v1/tickets/" + ticketUUID + "/pdf"
}

// OrderDetails rebuilds the receipt of one checkout session for its owner.
// Discounts come from the intent stored on the processor session; when the
// session cannot be read the order is shown without discounts.
func (s *OrderService) OrderDetails(ctx context.Context, userID, email, sessionID string) (*Order, error) {
	tickets, err := s.store.FindTicketsBySession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("s.store.FindTicketsBySession: %w", err)
	}
	if len(tickets) == 0 {
		return nil, status.NotFound("No tickets found for this order.")
	}

	event, err := s.store.GetEvent(ctx, tickets[0].EventID)
	if err != nil {
		return nil, notFoundOr(err, "Event not found")
	}

	welcome, pointsDiscount := s.discounts(ctx, sessionID)

	tiers := map[string]*models.PricingTier{}
	byTier := map[string]*OrderItem{}
	order := &Order{
		OrderID:      sessionID,
		Date:         tickets[0].Date,
		Email:        email,
		Event:        event,
		PointsEarned: len(tickets) * s.pointsPerTicket,
	}

	for _, t := range tickets {
		tier, ok := tiers[t.TierID]
		if !ok {
			tier, err = s.store.GetTier(ctx, t.TierID)
			if err != nil {
				return nil, notFoundOr(err, "Pricing tier not found")
			}
			tiers[t.TierID] = tier
		}

		item, ok := byTier[tier.ID]
		if !ok {
			item = &OrderItem{Name: tier.Name + " Ticket", Price: tier.Price}
			byTier[tier.ID] = item
			order.Items = append(order.Items, item)
		}
		item.Quantity++
		item.Tickets = append(item.Tickets, OrderTicket{
			ID:         t.ID,
			Date:       t.Date,
			QRCodeURL:  t.QRCode,
			PDFURL:     pdfURL(t.TicketUUID),
			TicketUUID: t.TicketUUID,
		})
	}

	lines := make([]PriceLine, len(order.Items))
	for i, item := range order.Items {
		lines[i] = PriceLine{Price: item.Price, Quantity: item.Quantity}
	}
	totals := ComputeTotals(lines, welcome, pointsDiscount)

	order.Total = totals.Original
	order.OriginalTotal = totals.Original
	order.WelcomeDiscount = totals.WelcomeDiscount
	order.PointsDiscount = totals.PointsDiscount
	order.FinalAmount = totals.Final
	order.WasDiscountApplied = totals.Discounted()
	return order, nil
}

func (s *OrderService) discounts(ctx context.Context, sessionID string) (bool, decimal.Decimal) {
	sess, err := s.processor.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		slog.Warn("s.processor.GetCheckoutSession()", "sessionId", sessionID, "error", err)
		return false, decimal.Zero
	}
	p, err := intent.Decode(sess.Metadata)
	if err != nil {
		slog.Warn("intent.Decode()", "sessionId", sessionID, "error", err)
		return false, decimal.Zero
	}
	return p.WelcomeDiscount, p.PointsDiscount
}

// TicketsByYear lists the caller's tickets grouped by purchase year, most
// recent year first.
func (s *OrderService) TicketsByYear(ctx context.Context, userID string) ([]TicketYear, error) {
	tickets, err := s.store.FindTicketsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("s.store.FindTicketsByUser: %w", err)
	}

	titles := map[string]string{}
	tierNames := map[string]string{}
	byYear := map[int]*TicketYear{}
	var years []int

	for _, t := range tickets {
		title, ok := titles[t.EventID]
		if !ok {
			if event, err := s.store.GetEvent(ctx, t.EventID); err == nil {
				title = event.Title
			} else if !errors.Is(err, status.ErrNotFound) {
				return nil, fmt.Errorf("s.store.GetEvent: %w", err)
			}
			titles[t.EventID] = title
		}
		tierName, ok := tierNames[t.TierID]
		if !ok {
			if tier, err := s.store.GetTier(ctx, t.TierID); err == nil {
				tierName = tier.Name
			} else if !errors.Is(err, status.ErrNotFound) {
				return nil, fmt.Errorf("s.store.GetTier: %w", err)
			}
			tierNames[t.TierID] = tierName
		}

		year := t.CreatedAt.Year()
		group, ok := byYear[year]
		if !ok {
			group = &TicketYear{Year: year}
			byYear[year] = group
			years = append(years, year)
		}
		group.Tickets = append(group.Tickets, &TicketView{
			Ticket:     t,
			EventTitle: title,
			TierName:   tierName,
			PDFURL:     pdfURL(t.TicketUUID),
		})
	}

	slices.Sort(years)
	slices.Reverse(years)
	out := make([]TicketYear, 0, len(years))
	for _, y := range years {
		out = append(out, *byYear[y])
	}
	return out, nil
}

// TicketPDF renders the e-ticket of a ticket owned by userID.
func (s *OrderService) TicketPDF(ctx context.Context, userID, ticketUUID string) ([]byte, error) {
	t, err := s.store.FindTicketByUUID(ctx, ticketUUID)
	if err != nil {
		return nil, notFoundOr(err, "Ticket not found")
	}
	if t.UserID != userID {
		return nil, status.NotFound("Ticket not found")
	}

	event, err := s.store.GetEvent(ctx, t.EventID)
	if err != nil {
		return nil, notFoundOr(err, "Event not found")
	}
	tier, err := s.store.GetTier(ctx, t.TierID)
	if err != nil {
		return nil, notFoundOr(err, "Pricing tier not found")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "User not found")
	}

	return ticketart.RenderPDF(&ticketart.Ticket{
		OrderID:     t.SessionID,
		TicketUUID:  t.TicketUUID,
		EventTitle:  event.Title,
		Location:    locationFor(event, tier),
		Date:        t.Date,
		TierName:    tier.Name,
		Price:       tier.Price,
		HolderName:  user.DisplayName(),
		HolderEmail: user.Email,
	})
}

// locationFor returns the venue of the tier's event date, falling back to
// the event's first date.
func locationFor(event *models.Event, tier *models.PricingTier) string {
	for _, d := range event.Dates {
		if d.ID == tier.EventDateID {
			return d.Location
		}
	}
	return event.PrimaryDate().Location
}
