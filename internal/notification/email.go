package notification

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net/smtp"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Mailer delivers one HTML email.
type Mailer interface {
	Send(to, subject, html string) error
}

// SMTPMailer sends through an SMTP server with STARTTLS and PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     string
	Sender   string
	Password string
}

// NewSMTPMailer reads SMTP_HOST, SMTP_PORT, EMAIL_SENDER and
// EMAIL_APP_PASSWORD.
func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{
		Host:     viper.GetString("SMTP_HOST"),
		Port:     viper.GetString("SMTP_PORT"),
		Sender:   viper.GetString("EMAIL_SENDER"),
		Password: viper.GetString("EMAIL_APP_PASSWORD"),
	}
}

// Configured reports whether a sender and password are set.
func (m *SMTPMailer) Configured() bool {
	return m.Sender != "" && m.Password != ""
}

// buildMessage renders headers in a fixed order followed by the HTML body.
func buildMessage(from, to, subject, html string) []byte {
	headers := map[string]string{
		"From":         from,
		"To":           to,
		"Subject":      mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version": "1.0",
		"Content-Type": `text/html; charset="utf-8"`,
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, headers[k])
	}
	msg.WriteString("\r\n")
	msg.WriteString(html)
	return msg.Bytes()
}

func (m *SMTPMailer) Send(to, subject, html string) error {
	if !m.Configured() {
		return errors.New("email sender not configured")
	}
	logrus.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Info("Attempting to send email")

	client, err := smtp.Dial(m.Host + ":" + m.Port)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
		return fmt.Errorf("start tls: %w", err)
	}
	if err := client.Auth(smtp.PlainAuth("", m.Sender, m.Password, m.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(m.Sender); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("open data: %w", err)
	}
	if _, err := w.Write(buildMessage(m.Sender, to, subject, html)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	if err := client.Quit(); err != nil {
		logrus.WithError(err).Warn("SMTP quit failed")
	}

	logrus.WithField("to", to).Info("Email sent successfully")
	return nil
}
