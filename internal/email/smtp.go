package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	// Timeout bounds one Send. gomail has no deadline of its own.
	Timeout time.Duration
}

// SMTPSender sends through gomail, one connection per message.
type SMTPSender struct {
	dialer  *gomail.Dialer
	timeout time.Duration
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	d.TLSConfig = &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SMTPSender{dialer: d, timeout: timeout}
}

// Send delivers one message. The timeout and ctx bound the dial; once the
// transfer has started, cancellation closes the connection and Send reports
// what the server actually answered.
func (s *SMTPSender) Send(ctx context.Context, subject, body, from, to string) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{
			Message: fmt.Sprintf("smtp send to %s not attempted: %v", to, err),
			Err:     err,
		}
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sc, err := s.dial(ctx, to)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { sc.Close() })
	err = gomail.Send(sc, m)
	if stop() {
		// A failed QUIT does not undo an accepted message.
		sc.Close()
	}
	if err != nil {
		return &DeliveryError{Message: err.Error(), Err: err}
	}
	return nil
}

type dialResult struct {
	sc  gomail.SendCloser
	err error
}

// dial connects and authenticates. A connection that completes after ctx
// is done is closed without sending.
func (s *SMTPSender) dial(ctx context.Context, to string) (gomail.SendCloser, error) {
	done := make(chan dialResult, 1)
	go func() {
		sc, err := s.dialer.Dial()
		done <- dialResult{sc: sc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &DeliveryError{Message: r.err.Error(), Err: r.err}
		}
		return r.sc, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.sc.Close()
			}
		}()
		return nil, &DeliveryError{
			Message: fmt.Sprintf("smtp connect for %s timed out", to),
			Err:     ctx.Err(),
		}
	}
}
