// Package sendmail is the notification job: it emails the configured account
// to itself.
package sendmail

import (
	"context"

	"github.com/cockroachdb/errors"

	"mailworker/internal/mailer"
	"mailworker/internal/task/catalog"
	logx "mailworker/pkg/logx"
)

const JobName = "SendToMyself"

// Payload keys.
const (
	KeyEmail         = "Email"
	KeyEmailUsername = "EmailUsername"
	KeyEmailPassword = "EmailPassword"
	KeyEmailServer   = "EmailServer"
	KeyEmailPort     = "EmailPort"
	KeyEmailSubject  = "EmailSubject"
	KeyEmailBody     = "EmailBody"
)

const (
	DefaultSubject = "Scheduled notification"
	DefaultBody    = "This message was sent by mailworker."
)

// Run returns the job body bound to sender.
func Run(sender mailer.Sender, log logx.Logger) catalog.RunFunc {
	log = log.With(logx.String("job", JobName))
	return func(ctx context.Context, p catalog.Payload) error {
		to, user, pass := p.Get(KeyEmail), p.Get(KeyEmailUsername), p.Get(KeyEmailPassword)
		if to == "" || user == "" || pass == "" {
			log.Debug("mail settings incomplete; skipping send",
				logx.Bool("has_email", to != ""),
				logx.Bool("has_username", user != ""),
				logx.Bool("has_password", pass != ""),
			)
			return nil
		}

		m := mailer.Message{
			Server:   p.Get(KeyEmailServer),
			Port:     p.Int(KeyEmailPort, mailer.DefaultPort),
			Username: user,
			Password: pass,
			To:       to,
			Subject:  p.Get(KeyEmailSubject),
			Body:     p.Get(KeyEmailBody),
		}
		if m.Subject == "" {
			m.Subject = DefaultSubject
		}
		if m.Body == "" {
			m.Body = DefaultBody
		}
		if err := sender.Send(ctx, m); err != nil {
			return errors.Wrapf(err, "notify %s", to)
		}
		return nil
	}
}

// Register adds (or replaces) the job in c.
func Register(c *catalog.Catalog, name string, payload catalog.Payload, sender mailer.Sender, log logx.Logger) (catalog.Definition, error) {
	if name == "" {
		name = JobName
	}
	return c.Register(name, payload, Run(sender, log))
}
