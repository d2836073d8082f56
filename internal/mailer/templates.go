package mailer

const layoutOpen = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: auto; border: 1px solid #eee; border-radius: 8px; overflow: hidden;">
  <div style="background-color: #021529; padding: 20px; text-align: center; color: #ffd72d; font-size: 22px; font-weight: bold;">eventix</div>
  <div style="padding: 30px; color: #021529;">`

const layoutClose = `
    <p style="margin-top: 40px; color: #888;">Thank you,<br/>The eventix Team</p>
  </div>
</div>`

const settlementTpl = layoutOpen + `
    <p>Hi {{.name}},</p>
    <p>Your payment went through. Here are your tickets for <strong>{{.eventTitle}}</strong>.</p>
    <p>{{.date}}<br/>{{.location}}</p>
    {{range .groups}}
    <h3 style="margin-bottom: 4px;">{{.Name}} x {{.Quantity}}</h3>
    <p style="margin-top: 0;">{{.UnitPrice}} each, {{.Subtotal}} total</p>
    {{range .Tickets}}
    <div style="margin: 10px 0;">
      <div style="font-size: 12px; color: #555;">Ticket {{.UUID}}</div>
      <pre style="font-size: 6px; line-height: 6px;">{{.ASCII}}</pre>
    </div>
    {{end}}
    {{end}}
    <table style="width: 100%; margin-top: 20px; border-top: 1px solid #eee;">
      <tr><td>Original total</td><td style="text-align: right;">{{.originalTotal}}</td></tr>
      {{if .hasDiscount}}
      <tr><td>Welcome discount</td><td style="text-align: right;">-{{.welcomeDiscount}}</td></tr>
      <tr><td>Points discount</td><td style="text-align: right;">-{{.pointsDiscount}}</td></tr>
      {{end}}
      <tr><td><strong>Paid</strong></td><td style="text-align: right;"><strong>{{.finalAmount}}</strong></td></tr>
    </table>
    <p>You earned <strong>{{.pointsEarned}}</strong> points with this order.</p>
    <p>QR codes and printable e-tickets are attached. You can also find them <a href="{{.orderURL}}">in your order</a>.</p>` + layoutClose

const suspiciousTpl = layoutOpen + `
    <p>Hi {{.name}},</p>
    <p>{{.message}}</p>` + layoutClose

const refundTpl = layoutOpen + `
    <p>Hi {{.name}},</p>
    <p>Your refund for <strong>{{.eventTitle}}</strong> has been processed.</p>
    <table style="width: 100%;">
      <tr><td>Ticket type</td><td style="text-align: right;">{{.ticketType}}</td></tr>
      <tr><td>Amount refunded</td><td style="text-align: right;">{{.amount}}</td></tr>
      <tr><td>Refund policy</td><td style="text-align: right;">{{.policy}}</td></tr>
    </table>
    {{if .remaining}}
    <p>{{.remaining}} other ticket(s) from the same order are still valid. Because this payment has now been partly refunded, they are no longer eligible for a separate refund.</p>
    {{end}}
    <p>Refunds usually appear on your statement within 5 to 10 business days.</p>` + layoutClose
