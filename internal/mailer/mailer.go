// Package mailer delivers single plain-text messages over SMTP.
package mailer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	logx "mailworker/pkg/logx"
)

var ErrInvalidMessage = errors.New("invalid mail message")

const (
	DefaultServer  = "smtp.gmail.com"
	DefaultPort    = 587
	DefaultTimeout = 30 * time.Second
)

// Message is everything needed to deliver one email.
type Message struct {
	Server   string
	Port     int
	Username string
	Password string
	To       string
	Subject  string
	Body     string
}

// Sender delivers a message. Implementations do not retry.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Config struct {
	// RatePerMinute caps sends; 0 disables the limiter.
	RatePerMinute int
	Timeout       time.Duration
}

// SMTPSender sends through an authenticated STARTTLS session (implicit TLS on port 465).
type SMTPSender struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	deliver func(ctx context.Context, host string, opts []mail.Option, msg *mail.Msg) error
}

func NewSMTPSender(cfg Config, log logx.Logger) *SMTPSender {
	s := &SMTPSender{log: log, deliver: dialAndSend}
	s.Apply(cfg)
	return s
}

// Apply swaps the rate limit and timeout.
func (s *SMTPSender) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	var lim *rate.Limiter
	if cfg.RatePerMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = lim
	s.mu.Unlock()
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	m = m.withDefaults()
	msg, err := BuildMessage(m)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return errors.Wrap(err, "mail rate limit")
		}
	}

	start := time.Now()
	if err := s.deliver(ctx, m.Server, clientOptions(m, cfg.Timeout), msg); err != nil {
		return errors.Wrapf(err, "send mail via %s:%d", m.Server, m.Port)
	}
	s.log.Info("mail sent",
		logx.String("server", m.Server),
		logx.Int("port", m.Port),
		logx.String("to", m.To),
		logx.Duration("dur", time.Since(start)),
	)
	return nil
}

func (m Message) withDefaults() Message {
	m.Server = strings.TrimSpace(m.Server)
	if m.Server == "" {
		m.Server = DefaultServer
	}
	if m.Port <= 0 {
		m.Port = DefaultPort
	}
	return m
}

// BuildMessage validates m and renders it as a go-mail message sent from the
// account itself.
func BuildMessage(m Message) (*mail.Msg, error) {
	if strings.TrimSpace(m.Username) == "" {
		return nil, errors.Wrap(ErrInvalidMessage, "username required")
	}
	if strings.TrimSpace(m.To) == "" {
		return nil, errors.Wrap(ErrInvalidMessage, "recipient required")
	}
	msg := mail.NewMsg()
	if err := msg.From(m.Username); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "from %q", m.Username), ErrInvalidMessage)
	}
	if err := msg.To(m.To); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "to %q", m.To), ErrInvalidMessage)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	return msg, nil
}

func clientOptions(m Message, timeout time.Duration) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(m.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.Username),
		mail.WithPassword(m.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(timeout),
	}
	if m.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	return opts
}

func dialAndSend(ctx context.Context, host string, opts []mail.Option, msg *mail.Msg) error {
	c, err := mail.NewClient(host, opts...)
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}
	return c.DialAndSendWithContext(ctx, msg)
}
