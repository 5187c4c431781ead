// Package notification sends text messages to platform users
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
)

// UserReader loads users by id
type UserReader interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Decrypter reveals an encrypted user attribute
type Decrypter interface {
	Decrypt(value string) (string, error)
}

// Provider delivers one text message and reports whether it was accepted
type Provider interface {
	Send(ctx context.Context, phone, countryCode, body string) bool
}

// PassthroughDecrypter is used when user attributes are stored in clear
type PassthroughDecrypter struct{}

func (PassthroughDecrypter) Decrypt(value string) (string, error) { return value, nil }

// SMSSender resolves recipients to phone numbers and hands messages to a provider
type SMSSender struct {
	users          UserReader
	decrypter      Decrypter
	provider       Provider
	defaultCountry string
}

// NewSMSSender creates a new SMS sender
func NewSMSSender(users UserReader, decrypter Decrypter, provider Provider, defaultCountry string) *SMSSender {
	return &SMSSender{
		users:          users,
		decrypter:      decrypter,
		provider:       provider,
		defaultCountry: defaultCountry,
	}
}

// HandleTask decodes an SMS request from the task payload and sends it
func (s *SMSSender) HandleTask(ctx context.Context, task worker.Task) error {
	var req model.SMSRequest
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		slog.Error("Malformed SMS request", "error", err, "payload_size", len(task.Payload))
		return nil
	}
	_, err := s.Send(ctx, req)
	return err
}

// Send messages every recipient and returns whether each one was accepted.
// Recipients that are unknown or have no phone map to false.
func (s *SMSSender) Send(ctx context.Context, req model.SMSRequest) (map[string]bool, error) {
	results := make(map[string]bool, len(req.RecipientUserIDs))
	for _, id := range req.RecipientUserIDs {
		results[id] = false
	}
	if len(req.RecipientUserIDs) == 0 {
		return results, nil
	}

	users, err := s.users.GetByIDs(ctx, req.RecipientUserIDs)
	if err != nil {
		return results, fmt.Errorf("failed to load SMS recipients: %w", err)
	}

	for _, user := range users {
		results[user.ID] = s.sendTo(ctx, user, req.Body)
	}

	sent := 0
	for _, ok := range results {
		if ok {
			sent++
		}
	}
	slog.Info("SMS batch processed", "recipients", len(results), "sent", sent)

	return results, nil
}

func (s *SMSSender) sendTo(ctx context.Context, user model.User, body string) bool {
	logger := slog.With("user_id", user.ID)

	if strings.TrimSpace(user.Phone) == "" {
		logger.Warn("User has no phone number, skipping SMS")
		return false
	}

	phone, err := s.decrypter.Decrypt(user.Phone)
	if err != nil {
		logger.Error("Failed to decrypt phone number", "error", err)
		return false
	}

	countryCode := strings.TrimSpace(user.CountryCode)
	if countryCode == "" {
		countryCode = s.defaultCountry
	}

	ok := s.provider.Send(ctx, phone, countryCode, body)
	if ok {
		logger.Info("SMS sent", "phone", MaskPhone(phone))
	} else {
		logger.Warn("SMS send failed", "phone", MaskPhone(phone))
	}
	return ok
}

// MaskPhone keeps the last four digits of a phone number
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
