package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
)

// OTPLength is the number of digits in an emailed login code.
const OTPLength = 6

// GenerateOTP returns a zero-padded numeric one-time code.
func GenerateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < OTPLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generating login code: %w", err)
	}
	return fmt.Sprintf("%0*d", OTPLength, n), nil
}

// CodeSender delivers a login code to an email address.
type CodeSender interface {
	SendLoginCode(ctx context.Context, email, code string) error
}

// LogSender writes login codes to the log instead of sending email. For
// development and tests only.
type LogSender struct {
	Logger *slog.Logger
}

// SendLoginCode logs the code.
func (s *LogSender) SendLoginCode(_ context.Context, email, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("login code issued", "email", email, "code", code)
	return nil
}
