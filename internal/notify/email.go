package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/naka-gawa/grade-report/internal/render"
	"github.com/ubuntu/decorate"
	"github.com/wneessen/go-mail"
)

const (
	// DefaultSMTPHost is the SMTP server used when none is configured.
	DefaultSMTPHost = "smtp.gmail.com"
	// DefaultSMTPPort is the submission port, upgraded with STARTTLS.
	DefaultSMTPPort = 587
)

// EmailConfig holds the sender account. Address is both the login and the From address.
type EmailConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
}

// sender sends messages over one SMTP session. It is implemented by *mail.Client.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier sends reports as HTML mail.
type EmailNotifier struct {
	from   string
	client sender
	logger *slog.Logger
}

// NewEmailNotifier creates an SMTP notifier authenticating with the configured account.
func NewEmailNotifier(cfg EmailConfig, logger *slog.Logger) (*EmailNotifier, error) {
	if cfg.Address == "" || cfg.Password == "" {
		return nil, errors.New("email address and password are required to send mail")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultSMTPHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}

	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Address),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create SMTP client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &EmailNotifier{from: cfg.Address, client: client, logger: logger}, nil
}

// Notify mails the document of msg to its recipients.
func (n *EmailNotifier) Notify(ctx context.Context, msg Message) (err error) {
	defer decorate.OnError(&err, "could not mail %q", msg.Subject)

	m, err := n.message(msg)
	if err != nil {
		return err
	}
	n.logger.Debug("Sending report mail", "subject", msg.Subject, "recipients", msg.Recipients)
	if err := n.client.DialAndSendWithContext(ctx, m); err != nil {
		return err
	}
	n.logger.Info("Report mail sent", "subject", msg.Subject, "recipients", len(msg.Recipients))
	return nil
}

func (n *EmailNotifier) message(msg Message) (*mail.Msg, error) {
	if len(msg.Recipients) == 0 {
		return nil, errors.New("no recipients")
	}

	m := mail.NewMsg()
	if err := m.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := m.To(msg.Recipients...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, render.Compact(msg.Document))
	return m, nil
}
