// Package push delivers titled text notifications to devices.
package push

import (
	"context"

	"go.uber.org/zap"

	"github.com/Azarenkov/aitu-keeper/internal/crypto"
)

// Sender delivers one notification to one device.
type Sender interface {
	Send(ctx context.Context, deviceToken, title, body string) error
}

// LogSender only logs notifications. It is used when no push credentials are configured.
type LogSender struct{ log *zap.Logger }

var _ Sender = (*LogSender)(nil)

// NewLogSender constructs a LogSender.
func NewLogSender(log *zap.Logger) *LogSender { return &LogSender{log: log} }

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, deviceToken, title, body string) error {
	s.log.Info("notification",
		zap.String("device", crypto.Fingerprint(deviceToken)),
		zap.String("title", title),
		zap.Int("body_len", len(body)),
	)
	return nil
}
