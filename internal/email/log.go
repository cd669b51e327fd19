package email

import (
	"context"

	"github.com/jwalitptl/mailing-api/pkg/logger"
)

// LogSender only logs. Used with mail.driver=log in development.
type LogSender struct {
	logger *logger.Logger
}

func NewLogSender(l *logger.Logger) *LogSender {
	return &LogSender{logger: l}
}

func (s *LogSender) Send(ctx context.Context, subject, _, from, to string) error {
	s.logger.WithContext(ctx).Info("mail not sent, log driver",
		"subject", subject,
		"from", from,
		"to", to,
	)
	return nil
}
