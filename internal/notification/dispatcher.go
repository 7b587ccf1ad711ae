// Package notification delivers "image ready" pushes through FCM.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/config"
	"github.com/aliskhannn/pixmix-relay/internal/model"
)

var (
	// ErrNoTokenForUser means the registry has no device for the user.
	ErrNoTokenForUser = errors.New("no device token registered for user")

	// ErrDeliveryFailure means every attempt failed. It wraps the last attempt's error.
	ErrDeliveryFailure = errors.New("push delivery failed")
)

const defaultPushTimeout = 10 * time.Second

// PushError is a non-2xx answer from the push endpoint.
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push endpoint %d: %s", e.StatusCode, e.Body)
}

// Receipt describes an accepted push.
type Receipt struct {
	Name     string // provider message id, e.g. projects/p/messages/123
	Attempts int
}

// credentialSource issues a bearer credential for the push endpoint.
type credentialSource interface {
	Token(ctx context.Context) (string, error)
}

// tokenLookup resolves the device token registered for a user.
type tokenLookup interface {
	Lookup(ctx context.Context, userID string) (string, bool, error)
}

type deliveryRecorder interface {
	RecordDelivery(err error)
}

// Dispatcher sends pushes with retry. Each attempt fetches a new credential.
type Dispatcher struct {
	creds     credentialSource
	registry  tokenLookup
	metrics   deliveryRecorder
	client    *http.Client
	pushURL   string
	title     string
	channelID string
	strategy  retry.Strategy
	enabled   bool
}

// NewDispatcher creates a Dispatcher. Delivery is disabled when the token or push URL is empty.
// A nil client gets a default with a timeout.
func NewDispatcher(
	cfg config.Notification,
	s retry.Strategy,
	creds credentialSource,
	registry tokenLookup,
	metrics deliveryRecorder,
	client *http.Client,
) *Dispatcher {
	if s.Attempts < 1 {
		s.Attempts = 1
	}
	if client == nil {
		client = &http.Client{Timeout: defaultPushTimeout}
	}

	return &Dispatcher{
		creds:     creds,
		registry:  registry,
		metrics:   metrics,
		client:    client,
		pushURL:   cfg.PushURL,
		title:     cfg.Title,
		channelID: cfg.ChannelID,
		strategy:  s,
		enabled:   cfg.Mode != "disabled" && cfg.TokenURL != "" && cfg.PushURL != "" && creds != nil,
	}
}

// Enabled reports whether pushes are actually sent.
func (d *Dispatcher) Enabled() bool {
	return d.enabled
}

// Send pushes the "image ready" message to deviceToken.
func (d *Dispatcher) Send(ctx context.Context, deviceToken, imageURL, filter string) (Receipt, error) {
	body, err := json.Marshal(buildFCM(NewImageReady(d.title, d.channelID, deviceToken, imageURL, filter)))
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal push message: %w", err)
	}

	var (
		receipt Receipt
		lastErr error
	)

	// retry.Do sleeps after every failed call, the last one included, and
	// ignores ctx. Returning nil on the final or cancelled attempt stops it
	// without that sleep; lastErr carries the outcome.
	_ = retry.Do(func() error {
		receipt.Attempts++

		if err := ctx.Err(); err != nil {
			lastErr = err
			return nil
		}

		name, err := d.post(ctx, body)
		if err != nil {
			lastErr = err
			zlog.Logger.Warn().
				Err(err).
				Int("attempt", receipt.Attempts).
				Int("max_attempts", d.strategy.Attempts).
				Msg("push attempt failed")
			if receipt.Attempts >= d.strategy.Attempts || ctx.Err() != nil {
				return nil
			}
			return err
		}

		receipt.Name = name
		lastErr = nil
		return nil
	}, d.strategy)

	if lastErr != nil {
		err := fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailure, receipt.Attempts, lastErr)
		d.record(err)
		return receipt, err
	}

	d.record(nil)
	return receipt, nil
}

// SendToUser looks up the user's device token and sends to it.
func (d *Dispatcher) SendToUser(ctx context.Context, userID, imageURL, filter string) (Receipt, error) {
	if d.registry == nil {
		return Receipt{}, ErrNoTokenForUser
	}

	token, found, err := d.registry.Lookup(ctx, userID)
	if err != nil {
		return Receipt{}, fmt.Errorf("lookup device token: %w", err)
	}
	if !found || token == "" {
		return Receipt{}, ErrNoTokenForUser
	}

	return d.Send(ctx, token, imageURL, filter)
}

// Notify routes n to Send or SendToUser. The device token wins when both are set.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) error {
	if !d.enabled {
		zlog.Logger.Debug().Str("request_id", n.RequestID).Msg("push delivery disabled, skipping")
		return nil
	}

	var (
		receipt Receipt
		err     error
	)

	switch {
	case n.DeviceToken != "":
		receipt, err = d.Send(ctx, n.DeviceToken, n.ImageURL, n.Filter)
	case n.UserID != "":
		receipt, err = d.SendToUser(ctx, n.UserID, n.ImageURL, n.Filter)
	default:
		return nil
	}
	if err != nil {
		return err
	}

	zlog.Logger.Info().
		Str("request_id", n.RequestID).
		Str("message", receipt.Name).
		Int("attempts", receipt.Attempts).
		Msg("push delivered")

	return nil
}

// post performs one delivery attempt and returns the provider message name.
func (d *Dispatcher) post(ctx context.Context, body []byte) (string, error) {
	credential, err := d.creds.Token(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.pushURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read push response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &PushError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(data, &out)

	return out.Name, nil
}

func (d *Dispatcher) record(err error) {
	if d.metrics != nil {
		d.metrics.RecordDelivery(err)
	}
}
