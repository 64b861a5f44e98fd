package main

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes deliveries to the log instead of a provider. A real
// deployment swaps in an SES or SendGrid implementation behind the
// same interface.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, recipient, templateID string, data map[string]any) error {
	s.logger.Info("sending email",
		zap.String("recipient", recipient),
		zap.String("template_id", templateID),
		zap.Any("data", data))
	return nil
}
