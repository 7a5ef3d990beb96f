package bootstrap

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/laserostop/booking-calendar/internal/config"
	"github.com/laserostop/booking-calendar/internal/notify"
	"github.com/laserostop/booking-calendar/pkg/logging"
)

// BuildEmailSender selects the provider named by EMAIL_PROVIDER. A provider
// that cannot be configured falls back to the stub, and the reason is returned.
// awsCfg is only read for ses and may be nil otherwise.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub", "missing config"
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			Identity: senderIdentity(cfg),
			APIKey:   cfg.SendGridAPIKey,
		}, logger)
		if sender == nil {
			return notify.NewStubEmailSender(logger), "stub", "SENDGRID_API_KEY not set"
		}
		return sender, "sendgrid", ""
	case "ses":
		if awsCfg == nil {
			return notify.NewStubEmailSender(logger), "stub", "aws config unavailable"
		}
		return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			Identity:         senderIdentity(cfg),
			ConfigurationSet: cfg.SESConfigSet,
		}, logger), "ses", ""
	case "", "stub":
		return notify.NewStubEmailSender(logger), "stub", ""
	default:
		return notify.NewStubEmailSender(logger), "stub", "unknown provider " + cfg.EmailProvider
	}
}

func senderIdentity(cfg *appconfig.Config) notify.Identity {
	return notify.Identity{
		FromEmail: cfg.EmailFromAddress,
		FromName:  cfg.EmailFromName,
		ReplyTo:   cfg.EmailReplyTo,
	}
}
