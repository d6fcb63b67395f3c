package email

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// ErrDKIMConfig is returned when DKIM settings are partially present.
var ErrDKIMConfig = errors.New("incomplete dkim configuration")

// dkimHeaderKeys lists the headers covered by the signature.
var dkimHeaderKeys = []string{
	"from",
	"to",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
	"reply-to",
}

// DKIMConfig describes where to find the signing key.
// Either KeyPath or PrivateKey (inline PEM) must be set when Selector is.
type DKIMConfig struct {
	Domain     string // optional; defaults to the sender's domain
	Selector   string
	KeyPath    string
	PrivateKey string
}

// Enabled reports whether any DKIM setting was provided.
func (c DKIMConfig) Enabled() bool {
	return strings.TrimSpace(c.Selector) != "" || strings.TrimSpace(c.KeyPath) != "" ||
		strings.TrimSpace(c.PrivateKey) != "" || strings.TrimSpace(c.Domain) != ""
}

// DKIMSigner adds a DKIM-Signature header to outgoing SMTP messages.
type DKIMSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

// LoadDKIMSigner builds a signer from config. A config with no DKIM settings
// yields a nil signer and no error; a nil signer passes messages through.
// PRE: cfg is either empty or names a selector and a key
// POST: Returns a signer holding the parsed private key
func LoadDKIMSigner(cfg DKIMConfig) (*DKIMSigner, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	selector := strings.TrimSpace(cfg.Selector)
	if selector == "" {
		return nil, fmt.Errorf("%w: selector is required", ErrDKIMConfig)
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.KeyPath != "":
		data, err := os.ReadFile(strings.TrimSpace(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("read dkim key: %w", err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("%w: key path or inline key is required", ErrDKIMConfig)
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("parse dkim key: %w", err)
	}
	return &DKIMSigner{
		domain:   strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector: selector,
		key:      key,
	}, nil
}

// Selector returns the configured selector.
func (s *DKIMSigner) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Sign returns message with a DKIM-Signature prepended. Already-signed
// messages and a nil signer return the input unchanged.
// PRE: message is a complete RFC 5322 message
// POST: Output uses CRLF line endings when signed
func (s *DKIMSigner) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasDKIMSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = addressDomain(from)
	}
	if domain == "" {
		return nil, errors.New("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             dkimHeaderKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(toCRLF(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}

// addressDomain extracts the lowercased domain from "Name <user@host>" or "user@host".
func addressDomain(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, "<"); i >= 0 {
		address = strings.TrimSuffix(address[i+1:], ">")
	}
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}

func hasDKIMSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

func toCRLF(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
