package sendmail

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailworker/internal/mailer"
	"mailworker/internal/task/catalog"
	logx "mailworker/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, m mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func fullPayload() catalog.Payload {
	return catalog.Payload{
		KeyEmail:         "me@example.com",
		KeyEmailUsername: "me@example.com",
		KeyEmailPassword: "app-password",
		KeyEmailServer:   "smtp.example.com",
		KeyEmailPort:     "465",
	}
}

func TestMissingCredentialsIsNoop(t *testing.T) {
	t.Parallel()
	for _, missing := range []string{KeyEmail, KeyEmailUsername, KeyEmailPassword} {
		sender := &fakeSender{}
		p := fullPayload()
		delete(p, missing)

		err := Run(sender, logx.Nop())(context.Background(), p)
		require.NoError(t, err, missing)
		assert.Empty(t, sender.sent, missing)
	}
}

func TestSendsMessage(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	require.NoError(t, Run(sender, logx.Nop())(context.Background(), fullPayload()))

	require.Len(t, sender.sent, 1)
	m := sender.sent[0]
	assert.Equal(t, "smtp.example.com", m.Server)
	assert.Equal(t, 465, m.Port)
	assert.Equal(t, "me@example.com", m.To)
	assert.Equal(t, DefaultSubject, m.Subject)
	assert.Equal(t, DefaultBody, m.Body)
}

func TestBadPortFallsBackToDefault(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	p := fullPayload()
	p[KeyEmailPort] = "not-a-port"
	require.NoError(t, Run(sender, logx.Nop())(context.Background(), p))
	assert.Equal(t, mailer.DefaultPort, sender.sent[0].Port)
}

func TestSendFailureIsReturned(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{err: errors.New("535 bad credentials")}
	err := Run(sender, logx.Nop())(context.Background(), fullPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535")
}

func TestRegisterUsesDefaultName(t *testing.T) {
	t.Parallel()
	c := catalog.New()
	def, err := Register(c, "", fullPayload(), &fakeSender{}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, JobName, def.Name)
	assert.True(t, c.Has(JobName))
}
