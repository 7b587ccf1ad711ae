package respond

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// Error is the body of every failed response.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// JSON sends a JSON response with the specified HTTP status code and data.
func JSON(c *ginext.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// OK sends data as a 200 OK JSON response.
func OK(c *ginext.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

// Fail sends an error response. err, when not nil, becomes the message.
func Fail(c *ginext.Context, status int, msg string, err error) {
	body := Error{Error: msg}
	if err != nil {
		body.Message = err.Error()
	}

	JSON(c, status, body)
}

// Abort is Fail for middleware: it also stops the handler chain.
func Abort(c *ginext.Context, status int, body Error) {
	c.AbortWithStatusJSON(status, body)
}
