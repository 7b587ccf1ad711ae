package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/pixmix-relay/internal/model"
	pushsvc "github.com/aliskhannn/pixmix-relay/internal/notification"
)

type stubNotifier struct {
	err error
	got []model.Notification
}

func (s *stubNotifier) Notify(_ context.Context, n model.Notification) error {
	s.got = append(s.got, n)
	return s.err
}

func message(t *testing.T, n model.Notification) kafka.Message {
	t.Helper()

	data, err := json.Marshal(n)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(n.RequestID), Value: data}
}

func TestHandle_Delivers(t *testing.T) {
	stub := &stubNotifier{}
	n := model.Notification{RequestID: "req-1", DeviceToken: "device-1", ImageURL: "u", Filter: "Pixar"}

	require.NoError(t, NewHandler(stub).Handle(context.Background(), message(t, n)))
	assert.Equal(t, []model.Notification{n}, stub.got)
}

func TestHandle_MalformedIsAcknowledged(t *testing.T) {
	stub := &stubNotifier{}

	err := NewHandler(stub).Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	require.NoError(t, err)
	assert.Empty(t, stub.got)
}

func TestHandle_UnknownUserIsAcknowledged(t *testing.T) {
	stub := &stubNotifier{err: pushsvc.ErrNoTokenForUser}

	err := NewHandler(stub).Handle(context.Background(), message(t, model.Notification{UserID: "ghost"}))
	require.NoError(t, err)
}

func TestHandle_DeliveryFailureIsReturned(t *testing.T) {
	stub := &stubNotifier{err: errors.Join(pushsvc.ErrDeliveryFailure, errors.New("503"))}

	err := NewHandler(stub).Handle(context.Background(), message(t, model.Notification{DeviceToken: "d"}))
	require.ErrorIs(t, err, pushsvc.ErrDeliveryFailure)
}
