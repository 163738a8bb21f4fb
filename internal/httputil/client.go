package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout  = 30 * time.Second
	DownloadTimeout = 5 * time.Minute
)

// NewClient returns an HTTP client for API calls.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: DefaultTimeout,
	}
}

// NewDownloadClient returns an HTTP client for archive downloads, which can
// run much longer than an API call.
func NewDownloadClient() *http.Client {
	return &http.Client{
		Timeout: DownloadTimeout,
	}
}
