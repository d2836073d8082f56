package ticketart

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// Ticket is everything printed on one e-ticket page.
type Ticket struct {
	OrderID     string
	TicketUUID  string
	EventTitle  string
	Location    string
	Date        time.Time
	TierName    string
	Price       decimal.Decimal
	HolderName  string
	HolderEmail string
}

// RenderPDF draws a single page A4 e-ticket with the entry QR on the right.
func RenderPDF(t *Ticket) ([]byte, error) {
	qr, err := RenderQR(t.TicketUUID)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(t.EventTitle, true)
	pdf.AddPage()

	// header band
	pdf.SetFillColor(2, 21, 41)
	pdf.Rect(0, 0, 210, 30, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetXY(15, 10)
	pdf.Cell(0, 10, "E-TICKET")
	pdf.SetTextColor(0, 0, 0)

	pdf.SetY(40)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(120, 9, t.EventTitle, "", "L", false)
	pdf.Ln(4)

	yStart := pdf.GetY()
	pdf.SetFillColor(245, 245, 245)
	pdf.Rect(15, yStart, 120, 62, "F")

	pdf.SetXY(20, yStart+6)
	drawSectionTitle(pdf, "TICKET")
	pdf.SetFont("Helvetica", "", 12)
	for _, line := range []string{
		fmt.Sprintf("Type: %s", t.TierName),
		fmt.Sprintf("Price: $%s", t.Price.StringFixed(2)),
		fmt.Sprintf("Date: %s", t.Date.Format("Mon, 02 Jan 2006 15:04")),
		fmt.Sprintf("Location: %s", t.Location),
		fmt.Sprintf("Order: %s", t.OrderID),
	} {
		pdf.SetX(20)
		pdf.Cell(0, 8, line)
		pdf.Ln(7)
	}

	pdf.RegisterImageOptionsReader("qr-"+t.TicketUUID, gofpdf.ImageOptions{ImageType: "png"}, bytes.NewReader(qr.PNG))
	pdf.ImageOptions("qr-"+t.TicketUUID, 145, yStart, 50, 0, false, gofpdf.ImageOptions{ImageType: "png"}, 0, "")

	pdf.SetY(yStart + 70)
	drawSectionTitle(pdf, "HOLDER")
	pdf.SetFont("Helvetica", "", 12)
	if t.HolderName != "" {
		pdf.Cell(0, 8, t.HolderName)
		pdf.Ln(6)
	}
	if t.HolderEmail != "" {
		pdf.Cell(0, 8, t.HolderEmail)
		pdf.Ln(6)
	}

	pdf.SetY(yStart + 100)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Ticket %s. Present this QR code at the entrance.", t.TicketUUID))

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, 285, 195, 285)
	pdf.SetY(288)
	pdf.CellFormat(0, 8, "This ticket is personal and valid for one entry.", "", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("ticketart: pdf.Output: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(0, 8, title, "", 1, "L", true, 0, "")
	pdf.Ln(2)
}
