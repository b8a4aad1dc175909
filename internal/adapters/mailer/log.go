package mailer

import (
	"context"

	"github.com/rs/zerolog"

	"community-pulse/internal/domain"
)

// LogMailer — заглушка внешней границы доставки для dev-окружения:
// вместо отправки пишет письмо в лог. Боевой транспорт подключается
// снаружи через domain.Mailer.
type LogMailer struct {
	log zerolog.Logger
}

var _ domain.Mailer = (*LogMailer)(nil)

// NewLog создаёт лог-мейлер.
func NewLog(logger zerolog.Logger) *LogMailer {
	return &LogMailer{log: logger}
}

// Send реализует domain.Mailer.
func (m *LogMailer) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.log.Info().
		Int("recipients", len(to)).
		Str("subject", subject).
		Int("body_bytes", len(htmlBody)).
		Msg("mailer: письмо записано в лог")
	return nil
}
