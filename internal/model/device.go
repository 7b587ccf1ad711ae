package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform is the client platform a device token was issued for.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// ParsePlatform normalizes a platform name. An empty name yields PlatformIOS.
func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PlatformIOS, nil
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", s)
	}
}

// DeviceRegistration maps an application user to a push-delivery device token.
type DeviceRegistration struct {
	UserID      string    `json:"userId" bson:"userId"`
	DeviceToken string    `json:"fcmToken" bson:"fcmToken"`
	Platform    Platform  `json:"platform" bson:"platform"`
	LastUpdated time.Time `json:"lastUpdated" bson:"lastUpdated"`
}
