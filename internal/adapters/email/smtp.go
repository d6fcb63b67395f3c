package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	mail "gopkg.in/gomail.v2"
)

// SMTPConfig holds the relay settings for SMTPSender.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	SkipTLSVerify bool
}

// smtpDialer opens one SMTP session. *mail.Dialer satisfies it.
type smtpDialer interface {
	Dial() (mail.SendCloser, error)
}

// SMTPSender delivers messages through an SMTP relay, optionally DKIM-signed.
type SMTPSender struct {
	dialer smtpDialer
	from   string
	signer *DKIMSigner
	now    func() time.Time
}

// NewSMTPSender creates a sender for the given relay. signer may be nil.
// PRE: cfg.Host and cfg.Port identify a reachable relay
// POST: Returns a sender that opens one session per message
func NewSMTPSender(cfg SMTPConfig, signer *DKIMSigner) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	if cfg.SkipTLSVerify {
		slog.Warn("smtp_tls_verify_disabled", "host", cfg.Host)
	}
	return &SMTPSender{dialer: d, from: cfg.From, signer: signer, now: time.Now}
}

// rawMessage lets pre-rendered (signed) bytes go through mail.SendCloser.
type rawMessage []byte

func (r rawMessage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r)
	return int64(n), err
}

// Send renders req as a multipart/alternative message and hands it to the relay.
// PRE: req has exactly one recipient address
// POST: The relay accepted the message, or an error describes why not
func (s *SMTPSender) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if len(req.To) == 0 {
		return SendResult{}, errors.New("smtp send failed: no recipient address")
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}
	from := req.From
	if from == "" {
		from = s.from
	}

	raw, messageID, err := s.buildMessage(from, req)
	if err != nil {
		return SendResult{}, err
	}

	sc, err := s.dialer.Dial()
	if err != nil {
		slog.Error("smtp_dial_failed", "error", err)
		return SendResult{}, fmt.Errorf("smtp dial: %w", err)
	}
	defer sc.Close()

	if err := sc.Send(envelopeAddress(from), req.To, rawMessage(raw)); err != nil {
		slog.Error("smtp_send_failed", "error", err, "to", req.To, "subject", req.Subject)
		return SendResult{}, fmt.Errorf("smtp send failed: %w", err)
	}

	slog.Info("smtp_sent", "message_id", messageID, "to", req.To, "signed", s.signer != nil)
	return SendResult{MessageID: messageID, SentAt: s.now()}, nil
}

// buildMessage returns the wire bytes and Message-ID for req.
func (s *SMTPSender) buildMessage(from string, req SendRequest) ([]byte, string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOr(addressDomain(from), "localhost"))

	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", req.To...)
	m.SetHeader("Subject", req.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetDateHeader("Date", s.now())
	if req.ReplyTo != "" {
		m.SetHeader("Reply-To", req.ReplyTo)
	}
	if req.Text != "" {
		m.SetBody("text/plain", req.Text)
		m.AddAlternative("text/html", req.HTML)
	} else {
		m.SetBody("text/html", req.HTML)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("build message: %w", err)
	}
	signed, err := s.signer.Sign(buf.Bytes(), from)
	if err != nil {
		return nil, "", err
	}
	return signed, messageID, nil
}

// envelopeAddress strips a display name for the SMTP MAIL FROM command.
func envelopeAddress(addr string) string {
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		if end := strings.LastIndex(addr, ">"); end > i {
			return addr[i+1 : end]
		}
	}
	return addr
}

func domainOr(domain, fallback string) string {
	if domain == "" {
		return fallback
	}
	return domain
}
