package discordutils

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// IsTransient reports whether err is a connectivity-class failure that is
// worth retrying quietly.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, discordgo.ErrWSNotFound) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var rateLimited *discordgo.RateLimitError
	if errors.As(err, &rateLimited) {
		return true
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}

	return false
}
