package services

import (
	"context"
	"net/http"
	"net/http/httptest"
)

type httpHandlerFunc func(ctx context.Context)

func (f httpHandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f(r.Context())
}

func serveWithToken(h http.Handler, token string) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
}
