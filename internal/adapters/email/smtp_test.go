package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	mail "gopkg.in/gomail.v2"
)

type captureSession struct {
	from    string
	to      []string
	body    bytes.Buffer
	sendErr error
	closed  bool
}

func (c *captureSession) Send(from string, to []string, msg io.WriterTo) error {
	c.from = from
	c.to = to
	if _, err := msg.WriteTo(&c.body); err != nil {
		return err
	}
	return c.sendErr
}

func (c *captureSession) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	session *captureSession
	err     error
	dials   int
}

func (f *fakeDialer) Dial() (mail.SendCloser, error) {
	f.dials++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newTestSMTPSender(d smtpDialer, signer *DKIMSigner) *SMTPSender {
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &SMTPSender{dialer: d, from: "Ventas <ventas@example.com>", signer: signer, now: func() time.Time { return fixed }}
}

func TestSMTPSender_Send_WritesMultipartMessage(t *testing.T) {
	session := &captureSession{}
	s := newTestSMTPSender(&fakeDialer{session: session}, nil)

	res, err := s.Send(context.Background(), SendRequest{
		To:      []string{"ana@example.com"},
		Subject: "Hola Ana",
		HTML:    "<p>Hola Ana</p>",
		Text:    "Hola Ana",
		ReplyTo: "soporte@example.com",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.MessageID, "@example.com>"))
	assert.Equal(t, "ventas@example.com", session.from)
	assert.Equal(t, []string{"ana@example.com"}, session.to)
	assert.True(t, session.closed)

	raw := session.body.String()
	assert.Contains(t, raw, "Subject: Hola Ana")
	assert.Contains(t, raw, "Reply-To: soporte@example.com")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
}

func TestSMTPSender_Send_DialError(t *testing.T) {
	s := newTestSMTPSender(&fakeDialer{err: errors.New("connection refused")}, nil)
	_, err := s.Send(context.Background(), SendRequest{To: []string{"a@example.com"}, Subject: "s", HTML: "<p>b</p>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSMTPSender_Send_RelayRejects(t *testing.T) {
	session := &captureSession{sendErr: errors.New("550 mailbox unavailable")}
	s := newTestSMTPSender(&fakeDialer{session: session}, nil)
	_, err := s.Send(context.Background(), SendRequest{To: []string{"a@example.com"}, Subject: "s", HTML: "<p>b</p>"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")
	assert.True(t, session.closed)
}

func TestSMTPSender_Send_NoRecipient(t *testing.T) {
	d := &fakeDialer{session: &captureSession{}}
	s := newTestSMTPSender(d, nil)
	_, err := s.Send(context.Background(), SendRequest{Subject: "s", HTML: "<p>b</p>"})
	require.Error(t, err)
	assert.Equal(t, 0, d.dials)
}

func TestSMTPSender_Send_CancelledContext(t *testing.T) {
	d := &fakeDialer{session: &captureSession{}}
	s := newTestSMTPSender(d, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Send(ctx, SendRequest{To: []string{"a@example.com"}, Subject: "s", HTML: "<p>b</p>"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, d.dials)
}

func TestSMTPSender_Send_Signed(t *testing.T) {
	session := &captureSession{}
	s := newTestSMTPSender(&fakeDialer{session: session}, testSigner(t, ""))
	_, err := s.Send(context.Background(), SendRequest{To: []string{"a@example.com"}, Subject: "s", HTML: "<p>b</p>"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(session.body.String(), "DKIM-Signature:"))
	assert.Contains(t, session.body.String(), "d=example.com")
}

func TestEnvelopeAddress(t *testing.T) {
	assert.Equal(t, "ventas@example.com", envelopeAddress("Ventas <ventas@example.com>"))
	assert.Equal(t, "ventas@example.com", envelopeAddress("ventas@example.com"))
}
