package response

import "github.com/gin-gonic/gin"

const (
	ErrCodeSuccess      = 4001 // Success
	ErrCodeParamInvalid = 4003 // Parameter invalid

	AuthFailed       = 4010 // Credential missing or rejected
	ErrCodeForbidden = 4030 // Origin not allowed
	ErrCodeRateLimit = 4290 // Too many handshakes
	ErrCodeInternal  = 5000 // Internal error
)

// message
var msg = map[int]string{
	ErrCodeSuccess:      "success",
	ErrCodeParamInvalid: "parameter is invalid",

	// Handshake
	AuthFailed:       "authentication failed",
	ErrCodeForbidden: "origin not allowed",
	ErrCodeRateLimit: "rate limit exceeded",
	ErrCodeInternal:  "internal error",
}

// ErrorResponse is the JSON body returned when a request is refused.
type ErrorResponse struct {
	Code   int    `json:"code"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Message returns the text for code, or an empty string for unknown codes.
func Message(code int) string {
	return msg[code]
}

// Abort writes an ErrorResponse for code and stops the handler chain.
func Abort(c *gin.Context, status, code int, reason string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:   code,
		Error:  Message(code),
		Reason: reason,
	})
}
