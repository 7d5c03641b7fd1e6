package xhttp

import "github.com/valyala/fasthttp"

// Status aliases so callers inside the package read without the fasthttp
// prefix.
const (
	StatusNotFound            = fasthttp.StatusNotFound
	StatusRequestTimeout      = fasthttp.StatusRequestTimeout
	StatusInternalServerError = fasthttp.StatusInternalServerError
)

var StatusText = fasthttp.StatusMessage
