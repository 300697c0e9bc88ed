package bootstrap

import (
	"context"
	"time"

	appconfig "github.com/cityhospital/appointment-bot/internal/config"
	"github.com/cityhospital/appointment-bot/internal/conversation"
	"github.com/cityhospital/appointment-bot/internal/messaging/whatsapp"
	"github.com/cityhospital/appointment-bot/internal/notify"
	"github.com/cityhospital/appointment-bot/pkg/logging"
)

// BuildWhatsAppClient creates the Cloud API client. It returns a nil client
// and a reason when credentials are missing or invalid.
func BuildWhatsAppClient(cfg *appconfig.Config, logger *logging.Logger) (*whatsapp.Client, string) {
	if cfg == nil {
		return nil, "missing config"
	}
	if !cfg.WhatsAppEnabled() {
		return nil, "WHATSAPP_PHONE_NUMBER_ID or WHATSAPP_ACCESS_TOKEN not set"
	}
	client, err := whatsapp.New(whatsapp.Config{
		BaseURL:       cfg.WhatsAppAPIURL,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		AccessToken:   cfg.WhatsAppAccessToken,
		AppSecret:     cfg.WhatsAppAppSecret,
		Timeout:       10 * time.Second,
		MaxRetries:    2,
		Logger:        logger,
	})
	if err != nil {
		return nil, err.Error()
	}
	return client, ""
}

// BuildOutboundMessenger returns the messenger workers deliver replies with.
// Without WhatsApp credentials replies are logged and dropped.
func BuildOutboundMessenger(client *whatsapp.Client, logger *logging.Logger) conversation.ReplyMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	if client == nil {
		return logMessenger{logger: logger}
	}
	return client
}

type logMessenger struct {
	logger *logging.Logger
}

func (m logMessenger) SendReply(_ context.Context, to string, reply conversation.Reply) error {
	m.logger.Info("whatsapp disabled; dropping reply", "to", logging.MaskPhone(to), "kind", reply.Kind)
	return nil
}

// BuildNotifier fans committed appointment changes out to staff email and
// WhatsApp alerts, patient confirmations for desk bookings, and any extra
// notifiers such as the dashboard feed.
func BuildNotifier(cfg *appconfig.Config, client *whatsapp.Client, logger *logging.Logger, extra ...conversation.Notifier) conversation.Notifiers {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return conversation.Notifiers(extra)
	}

	var emailSender notify.EmailSender
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
		emailSender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:      cfg.SendGridAPIKey,
			FromEmail:   cfg.SendGridFromEmail,
			FromName:    cfg.SendGridFromName,
			SandboxMode: cfg.SendGridSandbox,
		}, logger)
		logger.Info("sendgrid email sender initialized for staff notifications")
	} else {
		emailSender = notify.NewStubEmailSender(logger)
		logger.Warn("email notifications disabled (SENDGRID_API_KEY or SENDGRID_FROM_EMAIL not set)")
	}

	var textSender notify.TextSender
	if client != nil {
		textSender = notify.NewSimpleTextSender(func(ctx context.Context, to, body string) error {
			_, err := client.SendText(ctx, to, body)
			return err
		}, logger)
	} else {
		textSender = notify.NewStubTextSender(logger)
	}

	notifiers := conversation.Notifiers{
		notify.NewStaffNotifier(emailSender, textSender, notify.StaffConfig{
			HospitalName:    cfg.HospitalName,
			EmailRecipients: cfg.StaffNotifyEmail,
			TextRecipients:  cfg.StaffNotifyWhatsApp,
			Location:        cfg.Location(),
		}, logger),
	}
	if client != nil {
		notifiers = append(notifiers, whatsapp.NewConfirmationNotifier(client))
	}
	notifiers = append(notifiers, extra...)
	return notifiers
}
