// Package notification emails customers about their orders. It listens to
// the order events published by checkout.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"

	"storefront/internal/checkout"
)

const orderPaidTemplate = `
<html>
<body style="font-family: Arial, sans-serif; color: #333; line-height: 1.6;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #eee; border-radius: 10px;">
		<h2 style="color: #c62828; margin-bottom: 20px;">Vielen Dank für Ihre Bestellung!</h2>
		<p>Ihre Zahlung für die Bestellung <b>{{.Number}}</b> ist eingegangen.</p>
		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			{{range .Items}}
			<tr>
				<td style="padding: 6px 0;">{{.Quantity}} × {{.Name}}</td>
				<td style="padding: 6px 0; text-align: right;">{{money .LineTotal}} {{$.Currency}}</td>
			</tr>
			{{end}}
			<tr style="border-top: 1px solid #eee;">
				<td style="padding: 6px 0;">Versand</td>
				<td style="padding: 6px 0; text-align: right;">{{money .Shipping}} {{.Currency}}</td>
			</tr>
			<tr>
				<td style="padding: 6px 0;"><b>Total</b></td>
				<td style="padding: 6px 0; text-align: right;"><b>{{money .Total}} {{.Currency}}</b></td>
			</tr>
		</table>
		<a href="{{.OrderURL}}" style="display: inline-block; background-color: #c62828; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Bestellung ansehen</a>
	</div>
</body>
</html>`

var orderPaidTmpl = template.Must(template.New("orderPaid").Funcs(template.FuncMap{
	"money": func(d interface{ StringFixed(int32) string }) string { return d.StringFixed(2) },
}).Parse(orderPaidTemplate))

type Service struct {
	mailer  Mailer
	shopURL string
}

// NewService sends through mailer; links in emails point at shopURL.
func NewService(mailer Mailer, shopURL string) *Service {
	return &Service{mailer: mailer, shopURL: shopURL}
}

// RenderOrderPaid returns subject and HTML body of the payment confirmation.
func (s *Service) RenderOrderPaid(ev checkout.Event) (string, string, error) {
	data := struct {
		checkout.Event
		Number   string
		OrderURL string
	}{
		Event:    ev,
		Number:   ev.OrderNumber,
		OrderURL: fmt.Sprintf("%s/orders/%s", s.shopURL, ev.OrderNumber),
	}

	var buf bytes.Buffer
	if err := orderPaidTmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render order email: %w", err)
	}
	return fmt.Sprintf("Bestellbestätigung %s", ev.OrderNumber), buf.String(), nil
}

// HandleOrderEvent returns a consumer callback that emails the customer once
// an order is paid. Other events are ignored.
func HandleOrderEvent(svc *Service) func([]byte) {
	return func(data []byte) {
		var ev checkout.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logrus.WithError(err).Error("Error unmarshaling order event")
			return
		}
		if ev.Type != checkout.EventOrderPaid {
			return
		}
		if ev.Email == "" {
			logrus.WithField("order", ev.OrderNumber).Warn("Paid order has no email")
			return
		}

		subject, html, err := svc.RenderOrderPaid(ev)
		if err != nil {
			logrus.WithError(err).WithField("order", ev.OrderNumber).Error("Failed to render order email")
			return
		}
		if err := svc.mailer.Send(ev.Email, subject, html); err != nil {
			logrus.WithError(err).WithField("order", ev.OrderNumber).Error("Failed to send order email")
		}
	}
}
