package ticketart

import (
	"encoding/base64"
	"fmt"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 300

// brandInk is the dark navy used on every printed and mailed ticket.
var brandInk = color.RGBA{R: 0x02, G: 0x15, B: 0x29, A: 0xff}

// QR holds one ticket code in the forms the pipeline needs.
type QR struct {
	Content string
	PNG     []byte
	ASCII   string
}

// DataURL returns the PNG inlined for storage on the ticket row.
func (q *QR) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(q.PNG)
}

// RenderQR encodes content (the ticket uuid) as a PNG and a terminal string.
func RenderQR(content string) (*QR, error) {
	if content == "" {
		return nil, fmt.Errorf("ticketart: empty qr content")
	}

	code, err := qrcode.New(content, qrcode.High)
	if err != nil {
		return nil, fmt.Errorf("ticketart: qrcode.New: %w", err)
	}
	code.ForegroundColor = brandInk
	code.BackgroundColor = color.White

	png, err := code.PNG(qrSize)
	if err != nil {
		return nil, fmt.Errorf("ticketart: code.PNG: %w", err)
	}

	return &QR{
		Content: content,
		PNG:     png,
		ASCII:   code.ToSmallString(false),
	}, nil
}

// DecodeDataURL reverses DataURL so stored codes can be mailed or printed.
func DecodeDataURL(dataURL string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if len(dataURL) <= len(prefix) || dataURL[:len(prefix)] != prefix {
		return nil, fmt.Errorf("ticketart: not a png data url")
	}
	return base64.StdEncoding.DecodeString(dataURL[len(prefix):])
}
