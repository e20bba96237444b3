// Package mailer queues transactional email on the message broker. The API
// server only publishes; a separate worker renders and delivers the mail.
package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/campusreg/apiserver/internal/mq"
	"github.com/campusreg/apiserver/types"
)

// Channel is the broker channel the delivery worker consumes.
const Channel = "emails"

// Email templates.
const (
	TemplateWelcome       = "welcome"
	TemplatePasswordReset = "password_reset"
)

// Email is the queued payload for one outgoing message.
type Email struct {
	To       string            `json:"to"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// Outbox publishes email jobs. A nil broker disables delivery, which keeps
// local development working without RabbitMQ or Pub/Sub running.
type Outbox struct {
	broker mq.Backend
	logger *slog.Logger
}

func NewOutbox(broker mq.Backend, logger *slog.Logger) *Outbox {
	return &Outbox{broker: broker, logger: logger}
}

// SendWelcome queues the post-registration welcome mail carrying the
// assigned registration number.
func (o *Outbox) SendWelcome(ctx context.Context, account types.Account) error {
	return o.publish(ctx, Email{
		To:       account.Email,
		Template: TemplateWelcome,
		Data: map[string]string{
			"first_name":          account.FirstName,
			"registration_number": account.RegistrationNumber,
		},
	})
}

// SendPasswordReset queues the reset mail carrying the one-time token.
func (o *Outbox) SendPasswordReset(ctx context.Context, account types.Account, token string) error {
	return o.publish(ctx, Email{
		To:       account.Email,
		Template: TemplatePasswordReset,
		Data: map[string]string{
			"first_name":  account.FirstName,
			"reset_token": token,
		},
	})
}

func (o *Outbox) publish(ctx context.Context, email Email) error {
	if o.broker == nil {
		o.logger.Debug("email outbox disabled, dropping message",
			"template", email.Template, "to", email.To)
		return nil
	}

	data, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("encoding email payload: %w", err)
	}
	id, err := o.broker.Publish(ctx, Channel, data, map[string]string{
		"template": email.Template,
	})
	if err != nil {
		return fmt.Errorf("queueing email: %w", err)
	}
	o.logger.Debug("email queued", "template", email.Template, "message_id", id)
	return nil
}
