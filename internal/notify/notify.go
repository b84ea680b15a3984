package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"kycchain/internal/config"
)

// Sender delivers decision notices to applicants.
type Sender interface {
	SendDecision(ctx context.Context, toEmail, status, comment string) error
}

// LogSender writes notices to the log instead of sending mail. The
// default for development and tests.
type LogSender struct {
	log     *zap.Logger
	baseURL string
}

func (s LogSender) SendDecision(ctx context.Context, toEmail, status, comment string) error {
	_ = ctx
	s.log.Info("decision notice",
		zap.String("to", toEmail),
		zap.String("status", status),
		zap.String("comment", comment),
		zap.String("link", dashboardLink(s.baseURL)),
	)
	return nil
}

type SMTPSender struct {
	host    string
	port    int
	from    string
	baseURL string
}

func NewSender(cfg config.Config, log *zap.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{
			host:    cfg.SMTPHost,
			port:    cfg.SMTPPort,
			from:    cfg.NotifyFrom,
			baseURL: cfg.NotifyBaseURL,
		}
	default:
		return LogSender{log: log, baseURL: cfg.NotifyBaseURL}
	}
}

func (s SMTPSender) SendDecision(ctx context.Context, toEmail, status, comment string) error {
	_ = ctx
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	link := dashboardLink(s.baseURL)
	body := "Subject: KYC Application Update\r\n\r\n" +
		"Your KYC application status is now: " + status + "\r\n"
	if comment != "" {
		body += "Reviewer note: " + comment + "\r\n"
	}
	if link != "" {
		body += "View your application: " + link + "\r\n"
	}
	return smtp.SendMail(addr, nil, s.from, []string{toEmail}, []byte(body))
}

func dashboardLink(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/#/dashboard"
}
