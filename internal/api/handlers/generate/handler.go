package generate

import (
	"context"
	"errors"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/api/respond"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	"github.com/aliskhannn/pixmix-relay/internal/reqctx"
	gensvc "github.com/aliskhannn/pixmix-relay/internal/service/generate"
)

const multipartMemory = 10 << 20

// service runs the upload pipeline.
type service interface {
	Generate(ctx context.Context, up model.Upload) (model.EditResult, error)
}

// Handler serves POST /generate.
type Handler struct {
	service        service
	maxUploadBytes int64
	formMemory     int64
}

// NewHandler creates a new Handler. maxUploadBytes <= 0 leaves the body size unbounded.
func NewHandler(s service, maxUploadBytes int64) *Handler {
	return &Handler{service: s, maxUploadBytes: maxUploadBytes, formMemory: multipartMemory}
}

// Generate reads the multipart form (image, filter, fcmToken, userId) and runs the pipeline.
func (h *Handler) Generate(c *ginext.Context) {
	ctx := c.Request.Context()
	requestID := reqctx.RequestID(ctx)

	if h.maxUploadBytes > 0 {
		// Leave headroom for the other form fields.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartMemory)
	}

	if err := c.Request.ParseMultipartForm(h.formMemory); err != nil {
		zlog.Logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to parse multipart form")
		respond.Fail(c, http.StatusBadRequest, "Image not uploaded or invalid format", nil)
		return
	}
	// Parts over formMemory spill to os.TempDir; drop them before the response goes out.
	defer func() {
		if err := c.Request.MultipartForm.RemoveAll(); err != nil {
			zlog.Logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to remove multipart temp files")
		}
	}()

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("request_id", requestID).Msg("no image in upload")
		respond.Fail(c, http.StatusBadRequest, "Image not uploaded or invalid format", nil)
		return
	}
	defer file.Close()

	zlog.Logger.Info().
		Str("request_id", requestID).
		Str("filename", header.Filename).
		Int64("size", header.Size).
		Msg("upload received")

	res, err := h.service.Generate(ctx, model.Upload{
		Filter:       c.PostForm("filter"),
		Body:         file,
		Filename:     header.Filename,
		NotifyToken:  c.PostForm("fcmToken"),
		NotifyUserID: c.PostForm("userId"),
	})
	if err != nil {
		if errors.Is(err, gensvc.ErrBadRequest) {
			zlog.Logger.Warn().Err(err).Str("request_id", requestID).Msg("rejected upload")
			respond.Fail(c, http.StatusBadRequest, "Image not uploaded or invalid format", nil)
			return
		}

		zlog.Logger.Err(err).Str("request_id", requestID).Msg("failed to process image")
		respond.Fail(c, http.StatusInternalServerError, "Image processing failed", err)
		return
	}

	respond.OK(c, res)
}
