package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

func (l LineItem) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

type OrderConfirmationData struct {
	CustomerName    string
	OrderNumber     string
	Items           []LineItem
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	DeliveryCharge  decimal.Decimal
	Total           decimal.Decimal
	ShippingAddress string
	PaymentMethod   string
}

type ShipmentData struct {
	CustomerName      string
	OrderNumber       string
	AWBCode           string
	CourierName       string
	TrackingURL       string
	EstimatedDelivery string
}

type DeliveredData struct {
	CustomerName string
	OrderNumber  string
	AWBCode      string
}

var funcs = map[string]any{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}

const confirmationHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order Confirmation</title></head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #d97706;">Order Confirmed!</h1>
  <p>Thank you for your order, {{.CustomerName}}</p>
  <p style="background: #fef3c7; padding: 15px; font-family: monospace; font-weight: bold;">Order #{{.OrderNumber}}</p>
  <p>We've received your order and will send you a shipping notification as soon as your items are dispatched.</p>
  <h2>Order Items</h2>
  <table width="100%">
  {{- range .Items}}
    <tr><td>{{.Name}}<br><small>Quantity: {{.Quantity}} × ₹{{money .Price}}</small></td><td align="right">₹{{money .Total}}</td></tr>
  {{- end}}
  </table>
  <p>Subtotal: ₹{{money .Subtotal}}</p>
  {{- if .Discount.IsPositive}}
  <p style="color: #10b981;">Discount: -₹{{money .Discount}}</p>
  {{- end}}
  <p>Shipping: {{if .DeliveryCharge.IsZero}}FREE{{else}}₹{{money .DeliveryCharge}}{{end}}</p>
  <p style="font-size: 20px; font-weight: bold; color: #d97706;">Total: ₹{{money .Total}}</p>
  <h2>Shipping Address</h2>
  <p><strong>{{.CustomerName}}</strong><br>{{.ShippingAddress}}</p>
  <h2>Payment Method</h2>
  <p>{{.PaymentMethod}}</p>
  <p style="color: #6b7280;">Seujia Honey</p>
</body>
</html>`

const confirmationText = `Order Confirmed!

Thank you for your order, {{.CustomerName}}.
Order #{{.OrderNumber}}

{{range .Items}}- {{.Name}} x{{.Quantity}}: ₹{{money .Total}}
{{end}}
Subtotal: ₹{{money .Subtotal}}
{{- if .Discount.IsPositive}}
Discount: -₹{{money .Discount}}
{{- end}}
Shipping: {{if .DeliveryCharge.IsZero}}FREE{{else}}₹{{money .DeliveryCharge}}{{end}}
Total: ₹{{money .Total}}

Shipping to: {{.ShippingAddress}}
Payment method: {{.PaymentMethod}}
`

const shipmentHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Your Order Has Shipped</title></head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #d97706;">Your Order is On Its Way!</h1>
  <p>Hi {{.CustomerName}}, great news! Order <strong>{{.OrderNumber}}</strong> has been shipped.</p>
  <table>
    <tr><td>Courier</td><td><strong>{{.CourierName}}</strong></td></tr>
    <tr><td>AWB Number</td><td style="font-family: monospace;"><strong>{{.AWBCode}}</strong></td></tr>
    {{- if .EstimatedDelivery}}
    <tr><td>Estimated Delivery</td><td>{{.EstimatedDelivery}}</td></tr>
    {{- end}}
  </table>
  <p><a href="{{.TrackingURL}}" style="background: #d97706; color: #fff; padding: 12px 30px; text-decoration: none;">Track Your Order</a></p>
  <p style="color: #6b7280;">Seujia Honey</p>
</body>
</html>`

const shipmentText = `Hi {{.CustomerName}},

Your order {{.OrderNumber}} has been shipped.

COURIER: {{.CourierName}}
AWB NUMBER: {{.AWBCode}}
{{- if .EstimatedDelivery}}
ESTIMATED DELIVERY: {{.EstimatedDelivery}}
{{- end}}

Track your order: {{.TrackingURL}}
`

const deliveredHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Order Delivered</title></head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #d97706;">Delivered!</h1>
  <p>Hi {{.CustomerName}}, your order <strong>{{.OrderNumber}}</strong> has been delivered.</p>
  {{- if .AWBCode}}
  <p>AWB Code: {{.AWBCode}}</p>
  {{- end}}
  <p>Enjoy your pure Seujia Honey!</p>
</body>
</html>`

const deliveredText = `Hi {{.CustomerName}},

Your order {{.OrderNumber}} has been delivered. Enjoy your pure Seujia Honey!
`

var (
	confirmationHTMLTmpl = htmltemplate.Must(htmltemplate.New("confirmation").Funcs(funcs).Parse(confirmationHTML))
	confirmationTextTmpl = texttemplate.Must(texttemplate.New("confirmation").Funcs(funcs).Parse(confirmationText))
	shipmentHTMLTmpl     = htmltemplate.Must(htmltemplate.New("shipment").Parse(shipmentHTML))
	shipmentTextTmpl     = texttemplate.Must(texttemplate.New("shipment").Parse(shipmentText))
	deliveredHTMLTmpl    = htmltemplate.Must(htmltemplate.New("delivered").Parse(deliveredHTML))
	deliveredTextTmpl    = texttemplate.Must(texttemplate.New("delivered").Parse(deliveredText))
)

func render(html *htmltemplate.Template, text *texttemplate.Template, data any) (string, string, error) {
	var h, t bytes.Buffer
	if err := html.Execute(&h, data); err != nil {
		return "", "", fmt.Errorf("notify: failed to render %s html: %w", html.Name(), err)
	}
	if err := text.Execute(&t, data); err != nil {
		return "", "", fmt.Errorf("notify: failed to render %s text: %w", text.Name(), err)
	}
	return h.String(), t.String(), nil
}

func OrderConfirmation(to string, data OrderConfirmationData) (Message, error) {
	html, text, err := render(confirmationHTMLTmpl, confirmationTextTmpl, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Order Confirmed - %s", data.OrderNumber),
		HTML:    html,
		Text:    text,
	}, nil
}

func Shipment(to string, data ShipmentData) (Message, error) {
	html, text, err := render(shipmentHTMLTmpl, shipmentTextTmpl, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("🚚 Your Order %s Has Been Shipped!", data.OrderNumber),
		HTML:    html,
		Text:    text,
	}, nil
}

func Delivered(to string, data DeliveredData) (Message, error) {
	html, text, err := render(deliveredHTMLTmpl, deliveredTextTmpl, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your Order %s has been Delivered! 🎉", data.OrderNumber),
		HTML:    html,
		Text:    text,
	}, nil
}
