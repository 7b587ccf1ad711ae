package health

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/pixmix-relay/internal/api/respond"
)

type filterLister interface {
	Filters() []string
}

// Handler serves the unauthenticated informational routes.
type Handler struct {
	filters filterLister
	now     func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(f filterLister) *Handler {
	return &Handler{filters: f, now: time.Now}
}

// Health reports liveness.
func (h *Handler) Health(c *ginext.Context) {
	respond.JSON(c, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Filters lists the named filters with a dedicated prompt.
func (h *Handler) Filters(c *ginext.Context) {
	respond.OK(c, map[string][]string{"filters": h.filters.Filters()})
}
