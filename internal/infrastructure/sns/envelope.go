package sns

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sender-identity/internal/domain"
)

const (
	TypeNotification             = "Notification"
	TypeSubscriptionConfirmation = "SubscriptionConfirmation"
	TypeUnsubscribeConfirmation  = "UnsubscribeConfirmation"
)

// Message is the JSON envelope SNS posts to HTTP(S) subscribers.
type Message struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	Token            string `json:"Token,omitempty"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject,omitempty"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
	SubscribeURL     string `json:"SubscribeURL,omitempty"`
	UnsubscribeURL   string `json:"UnsubscribeURL,omitempty"`
}

var ErrInvalidSignature = errors.New("invalid sns signature")

var snsHost = regexp.MustCompile(`^sns\.[a-z0-9-]+\.amazonaws\.com(\.cn)?$`)

// Verifier checks SNS message signatures against the signing certificate
// published by AWS. Certificates are cached by URL.
type Verifier struct {
	http         *resty.Client
	hostPattern  *regexp.Regexp
	requireHTTPS bool

	mu    sync.RWMutex
	certs map[string]*x509.Certificate
}

func NewVerifier() *Verifier {
	return &Verifier{
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		hostPattern:  snsHost,
		requireHTTPS: true,
		certs:        make(map[string]*x509.Certificate),
	}
}

func (v *Verifier) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if v.requireHTTPS && u.Scheme != "https" {
		return fmt.Errorf("url %q is not https", raw)
	}
	if !v.hostPattern.MatchString(u.Hostname()) {
		return fmt.Errorf("url host %q is not an sns endpoint", u.Hostname())
	}
	return nil
}

// Verify validates m's signature. SignatureVersion 1 is SHA1-RSA, 2 is SHA256-RSA.
func (v *Verifier) Verify(ctx context.Context, m *Message) error {
	var algo x509.SignatureAlgorithm
	switch m.SignatureVersion {
	case "1":
		algo = x509.SHA1WithRSA
	case "2":
		algo = x509.SHA256WithRSA
	default:
		return fmt.Errorf("%w: unsupported signature version %q", ErrInvalidSignature, m.SignatureVersion)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", ErrInvalidSignature, err)
	}
	payload, err := StringToSign(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	cert, err := v.cert(ctx, m.SigningCertURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := cert.CheckSignature(algo, []byte(payload), sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (v *Verifier) cert(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if err := v.checkURL(certURL); err != nil {
		return nil, err
	}
	v.mu.RLock()
	c, ok := v.certs[certURL]
	v.mu.RUnlock()
	if ok {
		return c, nil
	}

	resp, err := v.http.R().SetContext(ctx).Get(certURL)
	if err != nil {
		return nil, fmt.Errorf("fetch signing cert: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch signing cert: status %d", resp.StatusCode())
	}
	block, _ := pem.Decode(resp.Body())
	if block == nil {
		return nil, errors.New("signing cert is not PEM")
	}
	c, err = x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing cert: %w", err)
	}

	v.mu.Lock()
	v.certs[certURL] = c
	v.mu.Unlock()
	return c, nil
}

// ConfirmSubscription visits the SubscribeURL of a SubscriptionConfirmation.
func (v *Verifier) ConfirmSubscription(ctx context.Context, m *Message) error {
	if m.Type != TypeSubscriptionConfirmation {
		return fmt.Errorf("message type %q is not a subscription confirmation: %w", m.Type, domain.ErrValidation)
	}
	if err := v.checkURL(m.SubscribeURL); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}
	resp, err := v.http.R().SetContext(ctx).Get(m.SubscribeURL)
	if err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("confirm subscription: status %d", resp.StatusCode())
	}
	return nil
}

// StringToSign builds the canonical newline-delimited form SNS signs.
func StringToSign(m *Message) (string, error) {
	var pairs [][2]string
	switch m.Type {
	case TypeNotification:
		pairs = append(pairs, [2]string{"Message", m.Message}, [2]string{"MessageId", m.MessageID})
		if m.Subject != "" {
			pairs = append(pairs, [2]string{"Subject", m.Subject})
		}
		pairs = append(pairs,
			[2]string{"Timestamp", m.Timestamp},
			[2]string{"TopicArn", m.TopicArn},
			[2]string{"Type", m.Type},
		)
	case TypeSubscriptionConfirmation, TypeUnsubscribeConfirmation:
		pairs = [][2]string{
			{"Message", m.Message},
			{"MessageId", m.MessageID},
			{"SubscribeURL", m.SubscribeURL},
			{"Timestamp", m.Timestamp},
			{"Token", m.Token},
			{"TopicArn", m.TopicArn},
			{"Type", m.Type},
		}
	default:
		return "", fmt.Errorf("unknown message type %q", m.Type)
	}
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(p[0])
		b.WriteByte('\n')
		b.WriteString(p[1])
		b.WriteByte('\n')
	}
	return b.String(), nil
}
