package generate

import (
	"context"
	"io"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/api/respond"
	"github.com/aliskhannn/pixmix-relay/internal/editor"
	"github.com/aliskhannn/pixmix-relay/internal/model"
)

const (
	probePrompt = "A cute baby panda wearing a hat"
	probeSize   = 256
)

type probeRenderer interface {
	ProbeImage(width, height int) (io.Reader, error)
}

type imageEditor interface {
	Edit(ctx context.Context, req editor.EditRequest) (editor.EditResponse, error)
}

// ProbeHandler serves GET /test-image: a synthetic image sent straight to the edit API.
type ProbeHandler struct {
	renderer probeRenderer
	editor   imageEditor
}

// NewProbeHandler creates a new ProbeHandler.
func NewProbeHandler(r probeRenderer, e imageEditor) *ProbeHandler {
	return &ProbeHandler{renderer: r, editor: e}
}

// TestImage checks the edit API end to end without staging.
func (h *ProbeHandler) TestImage(c *ginext.Context) {
	img, err := h.renderer.ProbeImage(probeSize, probeSize)
	if err != nil {
		respond.Fail(c, http.StatusInternalServerError, "Image generation failed", err)
		return
	}

	resp, err := h.editor.Edit(c.Request.Context(), editor.EditRequest{
		Image:    img,
		Filename: "test_image.png",
		Prompt:   probePrompt,
	})
	if err != nil {
		zlog.Logger.Err(err).Msg("probe edit failed")
		respond.Fail(c, http.StatusInternalServerError, "Image generation failed", err)
		return
	}

	url, err := editor.ExtractImageURL(resp)
	if err != nil {
		respond.Fail(c, http.StatusInternalServerError, "Image generation failed", err)
		return
	}

	respond.OK(c, model.EditResult{ImageURL: url})
}
