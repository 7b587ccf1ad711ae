package notification

import (
	"fmt"

	"github.com/aliskhannn/pixmix-relay/internal/model"
)

const notificationTypeImageReady = "image_ready"

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      fcmAndroid        `json:"android"`
	APNS         fcmAPNS           `json:"apns"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority     string                 `json:"priority,omitempty"`
	Notification fcmAndroidNotification `json:"notification"`
}

type fcmAndroidNotification struct {
	ChannelID            string `json:"channel_id,omitempty"`
	NotificationPriority string `json:"notification_priority,omitempty"`
}

type fcmAPNS struct {
	Payload struct {
		APS struct {
			ContentAvailable int `json:"content-available"`
		} `json:"aps"`
	} `json:"payload"`
}

// NewImageReady builds the "image ready" push for one device.
func NewImageReady(title, channelID, deviceToken, imageURL, filter string) model.PushMessage {
	return model.PushMessage{
		Token: deviceToken,
		Title: title,
		Body:  fmt.Sprintf("Your %s filter has been applied successfully.", filter),
		Data: map[string]string{
			"notificationType": notificationTypeImageReady,
			"imageUrl":         imageURL,
			"filterType":       filter,
			"channelId":        channelID,
		},
		ChannelID: channelID,
		Priority:  "high",
	}
}

// buildFCM converts a push message to an FCM v1 messages:send body.
func buildFCM(m model.PushMessage) fcmRequest {
	msg := fcmMessage{
		Token:        m.Token,
		Notification: fcmNotification{Title: m.Title, Body: m.Body},
		Data:         m.Data,
		Android: fcmAndroid{
			Priority: m.Priority,
			Notification: fcmAndroidNotification{
				ChannelID:            m.ChannelID,
				NotificationPriority: "PRIORITY_HIGH",
			},
		},
	}
	msg.APNS.Payload.APS.ContentAvailable = 1

	return fcmRequest{Message: msg}
}
