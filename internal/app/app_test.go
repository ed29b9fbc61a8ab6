package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/keyxmakerx/loginfirewall/internal/apperror"
	"github.com/keyxmakerx/loginfirewall/internal/config"
)

func newTestApp() *App {
	return New(&config.Config{Env: "development", Port: 8080}, nil, nil)
}

func serveError(a *App, path string, err error, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.errorHandler(err, a.Echo.NewContext(req, rec))
	return rec
}

func TestErrorHandler_APIGetsJSON(t *testing.T) {
	rec := serveError(newTestApp(), "/api/whitelist", apperror.NewBadGateway("no whitelist accepted the IP", errors.New("boom")), nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/json")
	assert.Contains(t, rec.Body.String(), "no whitelist accepted the IP")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestErrorHandler_BrowserUnauthorizedRedirects(t *testing.T) {
	rec := serveError(newTestApp(), "/dashboard", apperror.NewUnauthorized("session expired"), nil)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestErrorHandler_HTMXUnauthorizedUsesHeader(t *testing.T) {
	rec := serveError(newTestApp(), "/dashboard", apperror.NewUnauthorized("session expired"),
		map[string]string{"HX-Request": "true"})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("HX-Redirect"))
}

func TestErrorHandler_RendersErrorPage(t *testing.T) {
	rec := serveError(newTestApp(), "/nope", echo.ErrNotFound, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, rec.Body.String(), "404")
}

func TestErrorHandler_HidesUnexpectedErrors(t *testing.T) {
	rec := serveError(newTestApp(), "/api/admin/groups", errors.New("dial tcp 10.0.0.5:3306: refused"), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestIsAPIRequest(t *testing.T) {
	e := echo.New()
	for path, want := range map[string]bool{
		"/api":             true,
		"/api/whitelist":   true,
		"/apiary":          false,
		"/admin/whitelist": false,
	} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		assert.Equal(t, want, isAPIRequest(c), path)
	}
}
