package handlers

import (
	"encoding/json"
	"strconv"
	"strings"

	xhttp "github.com/adisharma29/tripcompass-sub000/pkg/http"
)

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt64(ctx *xhttp.RequestCtx, key string) (int64, error) {
	return strconv.ParseInt(query(ctx, key), 10, 64)
}

// routeParam reads a named path segment captured by the router.
func routeParam(ctx *xhttp.RequestCtx, name string) string {
	if v, ok := ctx.UserValue(name).(string); ok {
		return v
	}
	return ""
}

// clientIP prefers the proxy-supplied address over the socket peer.
func clientIP(ctx *xhttp.RequestCtx) string {
	if v := ctx.Request.Header.Peek("X-Forwarded-For"); len(v) > 0 {
		return strings.TrimSpace(strings.Split(string(v), ",")[0])
	}
	return ctx.RemoteIP().String()
}
