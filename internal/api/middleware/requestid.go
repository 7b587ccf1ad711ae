package middleware

import (
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/pixmix-relay/internal/reqctx"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// RequestID accepts an inbound X-Request-ID or generates one, echoes it in the
// response and stores it in the request context.
func RequestID() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(reqctx.With(c.Request.Context(), reqctx.Values{RequestID: id}))

		c.Next()
	}
}
