package model

// Notification asks for an "image ready" push to either a device token or a registered user.
// DeviceToken wins when both are set.
type Notification struct {
	RequestID   string `json:"request_id"`
	DeviceToken string `json:"device_token,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ImageURL    string `json:"image_url"`
	Filter      string `json:"filter"`
}

// Empty reports whether the notification has no addressee.
func (n Notification) Empty() bool {
	return n.DeviceToken == "" && n.UserID == ""
}

// PushMessage is the provider-neutral push payload built for one delivery attempt.
type PushMessage struct {
	Token     string
	Title     string
	Body      string
	Data      map[string]string
	ChannelID string
	Priority  string
}
