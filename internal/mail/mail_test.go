package mail

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func validMessage() Message {
	return Message{
		From:    "Digest Bot <digest@example.com>",
		To:      []string{"me@example.com", "partner@example.org"},
		Subject: "[Daily Digest] Wednesday, October 14, 2026",
		HTML:    "<p>Hello</p>",
		Text:    "Hello\n",
	}
}

func newTestSender(d dialer) *SMTPSender {
	return &SMTPSender{
		dialer: d,
		server: "smtp.example.com",
		now:    func() time.Time { return time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC) },
	}
}

func TestSend_BuildsMultipartMessage(t *testing.T) {
	d := &fakeDialer{}
	require.NoError(t, newTestSender(d).Send(context.Background(), validMessage()))
	require.Len(t, d.sent, 1)

	m := d.sent[0]
	assert.Equal(t, []string{"me@example.com", "partner@example.org"}, m.GetHeader("To"))
	assert.Equal(t, []string{"[Daily Digest] Wednesday, October 14, 2026"}, m.GetHeader("Subject"))
	require.Len(t, m.GetHeader("Message-ID"), 1)
	assert.Regexp(t, regexp.MustCompile(`^<[0-9a-f-]{36}@example\.com>$`), m.GetHeader("Message-ID")[0])

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
	assert.Contains(t, raw, "Digest Bot")
	assert.Contains(t, raw, "Wed, 14 Oct 2026 10:30:00")
}

func TestSend_ValidationFails(t *testing.T) {
	tests := map[string]func(m *Message){
		"bad sender":    func(m *Message) { m.From = "not an address" },
		"no recipients": func(m *Message) { m.To = nil },
		"bad recipient": func(m *Message) { m.To = []string{"me@example.com", "@@"} },
		"no subject":    func(m *Message) { m.Subject = " " },
		"no body":       func(m *Message) { m.HTML = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			d := &fakeDialer{}
			msg := validMessage()
			mutate(&msg)

			err := newTestSender(d).Send(context.Background(), msg)
			var mailErr *MailError
			require.True(t, errors.As(err, &mailErr))
			assert.Equal(t, "validate", mailErr.Op)
			assert.Empty(t, d.sent)
		})
	}
}

func TestSend_DeliveryFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("535 authentication failed")}
	err := newTestSender(d).Send(context.Background(), validMessage())

	var mailErr *MailError
	require.ErrorAs(t, err, &mailErr)
	assert.Equal(t, "send", mailErr.Op)
	assert.Contains(t, err.Error(), "535")
}

func TestSend_CancelledContext(t *testing.T) {
	d := &fakeDialer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestSender(d).Send(ctx, validMessage())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.sent)
}

func TestMessageID(t *testing.T) {
	a, b := messageID("x@mail.example.com"), messageID("x@mail.example.com")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "@mail.example.com>")
	assert.NotContains(t, messageID("nobody"), "@>")
}
