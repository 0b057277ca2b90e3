package base

import (
	"errors"
	"net"
)

// isTimeout reports whether err is a deadline or timeout error
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
