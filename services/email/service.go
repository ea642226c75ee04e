// Package emailsvc delivers core.EmailMessage values through the configured backend.
package emailsvc

import (
	"github.com/guni/lms/core"
)

// New returns the email service selected by conf.Email.Backend (console when unknown).
func New(conf *core.Config, logger core.Logger) core.EmailService {
	switch conf.Email.Backend {
	case "sendgrid":
		return NewSendgridService(conf, logger)
	case "smtp":
		return NewSMTPService(conf, logger)
	default:
		return NewConsoleService(conf, logger)
	}
}
