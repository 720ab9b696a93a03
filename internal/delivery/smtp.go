package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/foundermatch/funnel/internal/domain"
	"github.com/foundermatch/funnel/internal/pkg/logger"
)

// SMTPSender delivers to an SMTP server, normally a local sink such as
// Mailpit or MailHog. STARTTLS is used when offered; auth only when
// credentials are set.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

// NewSMTPSender creates a sender for host:port.
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  10 * time.Second,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.host == "" {
		return nil, fmt.Errorf("SMTP host not configured")
	}

	messageID := uuid.New().String() + "@" + s.host
	raw, err := buildMIME(msg, messageID)
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	if err := s.deliver(ctx, addr, msg.From, msg.To, raw); err != nil {
		return &domain.SendResult{Success: false, Provider: domain.ProviderSMTP, Error: err.Error()}, nil
	}

	logger.Debug("smtp delivered", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  domain.ProviderSMTP,
		SentAt:    time.Now().UTC(),
	}, nil
}

func (s *SMTPSender) deliver(ctx context.Context, addr, from, to string, raw []byte) error {
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTP connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(s.timeout))
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if s.username != "" && s.password != "" {
		if err := c.Auth(&plainAuth{user: s.username, pass: s.password}); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}

// buildMIME renders a multipart/alternative message with quoted-printable
// text and HTML parts.
func buildMIME(msg *domain.EmailMessage, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), msg.From)
	}
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Message-ID: <%s>\r\n", messageID)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if msg.ReplyTo != "" {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", msg.ReplyTo)
	}
	if msg.Category != "" {
		fmt.Fprintf(&buf, "X-Email-Category: %s\r\n", msg.Category)
	}
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, msg.Headers[k])
	}

	boundary := "=_" + uuid.New().String()[:16]
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	parts := []struct{ contentType, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; charset=UTF-8\r\n", p.contentType)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

// plainAuth is PLAIN auth without net/smtp's TLS-or-localhost rule; sinks
// on a private network often accept credentials in the clear.
type plainAuth struct {
	user, pass string
}

func (a *plainAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("unexpected server challenge")
	}
	return nil, nil
}
