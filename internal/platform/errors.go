package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var ErrNotFound = errors.New("platform: resource not found")

// APIError: ответ платформы с кодом вне 2xx.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is позволяет писать errors.Is(err, ErrNotFound) для 404.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// parseRetryAfter понимает и секунды, и HTTP-дату.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
