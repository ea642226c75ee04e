package emailsvc

import (
	"fmt"
	"net/mail"

	"gopkg.in/gomail.v2"

	"github.com/guni/lms/core"
)

type smtpService struct {
	dialer          *gomail.Dialer
	from            string
	subjPrefix      string
	frontendBaseURL string
	logger          core.Logger
}

var _ core.EmailService = (*smtpService)(nil)

// NewSMTPService sends emails through an SMTP relay (eg: a Gmail app password).
func NewSMTPService(conf *core.Config, logger core.Logger) *smtpService {
	from := conf.DefaultFrom()
	return &smtpService{
		dialer:          gomail.NewDialer(conf.Email.SMTPHost, conf.Email.SMTPPort, conf.Email.SMTPUser, conf.Email.SMTPPassword),
		from:            from.String(),
		subjPrefix:      "[" + conf.AppName + "] ",
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
	}
}

func (svc *smtpService) SendMessages(messages ...*core.EmailMessage) {
	go func() {
		ready := make([]*gomail.Message, 0, len(messages))
		for _, msg := range messages {
			if err := msg.Render(svc.frontendBaseURL); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				continue
			}
			if msg.HasRecipients() && msg.HasContent() {
				ready = append(ready, svc.prepare(*msg))
			}
		}
		if len(ready) == 0 {
			return
		}
		// one connection for the whole batch
		if err := svc.dialer.DialAndSend(ready...); err != nil {
			svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
		}
	}()
}

func (svc *smtpService) prepare(msg core.EmailMessage) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", svc.from)
	m.SetHeader("Subject", svc.subjPrefix+msg.Subject)
	m.SetHeader("To", formatAddresses(m, msg.To)...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", formatAddresses(m, msg.Cc)...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", formatAddresses(m, msg.Bcc)...)
	}
	m.SetBody("text/plain", msg.TextContent)
	if msg.HTMLContent != "" {
		m.AddAlternative("text/html", msg.HTMLContent)
	}
	return m
}

func formatAddresses(m *gomail.Message, addrs []mail.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, m.FormatAddress(a.Address, a.Name))
	}
	return out
}
