package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"nursery/models"
)

// Sender отправляет письмо-подтверждение заказа
type Sender interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order) error
}

// APISender шлёт письма через HTTP API транзакционной почты
// (POST {from, to, subject, html} с ключом в заголовке Authorization).
type APISender struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

func NewAPISender(url, apiKey, from string) *APISender {
	return &APISender{
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (s *APISender) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	if order.Customer.Email == "" {
		return fmt.Errorf("order %s has no customer email", order.OrderCode)
	}
	html, err := RenderOrderConfirmation(order)
	if err != nil {
		return err
	}
	body, err := json.Marshal(message{
		From:    s.from,
		To:      []string{order.Customer.Email},
		Subject: fmt.Sprintf("Order %s confirmed", order.OrderCode),
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail api returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

var orderTemplate = template.Must(template.New("order").Parse(orderConfirmationHTML))

// RenderOrderConfirmation собирает HTML письма по заказу
func RenderOrderConfirmation(order *models.Order) (string, error) {
	var buf bytes.Buffer
	if err := orderTemplate.Execute(&buf, order); err != nil {
		return "", fmt.Errorf("render order mail: %w", err)
	}
	return buf.String(), nil
}

const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Order {{.OrderCode}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #2e7d32; color: white; padding: 20px; text-align: center; }
        table { width: 100%; border-collapse: collapse; }
        td, th { padding: 8px; border-bottom: 1px solid #ddd; text-align: left; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Thank you for your order, {{.Customer.Name}}!</h1>
        </div>
        <p>Your order <strong>{{.OrderCode}}</strong> has been received.</p>
        <table>
            <tr><th>Plant</th><th>Qty</th><th>Price</th></tr>
            {{range .CartItems}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.Price.StringFixed 2}}</td></tr>
            {{end}}
        </table>
        <p><strong>Total: {{.TotalAmount.StringFixed 2}}</strong></p>
        <p>Delivering to {{.DeliveryAddress.FullName}}, {{.DeliveryAddress.Line1}}, {{.DeliveryAddress.City}} {{.DeliveryAddress.PostalCode}}</p>
    </div>
</body>
</html>
`
