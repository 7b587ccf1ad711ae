package model

import (
	"io"
	"time"
)

// Upload is a single inbound /generate request after the multipart form has been parsed.
type Upload struct {
	Filter       string    `json:"filter"`
	Body         io.Reader `json:"-"`
	Filename     string    `json:"filename"`
	NotifyToken  string    `json:"notify_token,omitempty"`
	NotifyUserID string    `json:"notify_user_id,omitempty"`
}

// EditResult is what the pipeline hands back to the client.
type EditResult struct {
	ImageURL string `json:"imageUrl"`
}

// Identity is the caller authenticated by the bearer-token middleware.
type Identity struct {
	Subject   string        `json:"sub"`
	Email     string        `json:"email,omitempty"`
	Scope     string        `json:"scope,omitempty"`
	ExpiresIn time.Duration `json:"expires_in,omitempty"`
}
