package device

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/api/respond"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	devicerepo "github.com/aliskhannn/pixmix-relay/internal/repository/device"
)

// registry stores device tokens per user.
type registry interface {
	Upsert(ctx context.Context, reg model.DeviceRegistration) error
	Get(ctx context.Context, userID string) (model.DeviceRegistration, error)
	Remove(ctx context.Context, userID string) error
}

// Handler provides HTTP handlers for device registration.
type Handler struct {
	registry registry
}

// NewHandler creates a new Handler with the given registry.
func NewHandler(r registry) *Handler {
	return &Handler{registry: r}
}

// RegisterRequest is the body of POST /register-token. deviceToken is accepted as an alias of fcmToken.
type RegisterRequest struct {
	UserID      string `json:"userId"`
	FCMToken    string `json:"fcmToken"`
	DeviceToken string `json:"deviceToken"`
	Platform    string `json:"platform"`
}

// Register upserts the caller's device token.
func (h *Handler) Register(c *ginext.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	token := req.FCMToken
	if token == "" {
		token = req.DeviceToken
	}
	userID := strings.TrimSpace(req.UserID)
	token = strings.TrimSpace(token)

	if userID == "" || token == "" {
		respond.JSON(c, http.StatusBadRequest, respond.Error{
			Error:   "Missing required fields",
			Message: "userId and fcmToken are required",
		})
		return
	}

	// An empty platform keeps whatever is stored; new registrations default to ios.
	var platform model.Platform
	if strings.TrimSpace(req.Platform) != "" {
		p, err := model.ParsePlatform(req.Platform)
		if err != nil {
			respond.Fail(c, http.StatusBadRequest, "Invalid platform", err)
			return
		}
		platform = p
	}

	err := h.registry.Upsert(c.Request.Context(), model.DeviceRegistration{
		UserID:      userID,
		DeviceToken: token,
		Platform:    platform,
	})
	if err != nil {
		zlog.Logger.Err(err).Str("user_id", userID).Msg("failed to register device")
		respond.Fail(c, http.StatusInternalServerError, "Failed to register device", nil)
		return
	}

	zlog.Logger.Info().Str("user_id", userID).Str("platform", string(platform)).Msg("device registered")

	respond.OK(c, map[string]bool{"success": true})
}

// Get returns the registration for :userId.
func (h *Handler) Get(c *ginext.Context) {
	userID := c.Param("userId")

	reg, err := h.registry.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, devicerepo.ErrDeviceNotFound) {
			respond.Fail(c, http.StatusNotFound, "Device not registered", nil)
			return
		}

		zlog.Logger.Err(err).Str("user_id", userID).Msg("failed to get device")
		respond.Fail(c, http.StatusInternalServerError, "Failed to get device", nil)
		return
	}

	respond.OK(c, reg)
}

// Delete removes the registration for :userId. Deleting an unknown user succeeds.
func (h *Handler) Delete(c *ginext.Context) {
	userID := c.Param("userId")

	if err := h.registry.Remove(c.Request.Context(), userID); err != nil {
		zlog.Logger.Err(err).Str("user_id", userID).Msg("failed to remove device")
		respond.Fail(c, http.StatusInternalServerError, "Failed to remove device", nil)
		return
	}

	respond.OK(c, map[string]bool{"success": true})
}
