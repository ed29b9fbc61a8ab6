package pages

import (
	"context"
	"net/http"

	"github.com/a-h/templ"
)

// ErrorPage renders a full error page for browser requests.
func ErrorPage(code int, message string) templ.Component {
	return page(http.StatusText(code), func(_ context.Context, h *htmlWriter) {
		h.raw(`<div class="card">`)
		h.rawf(`<h1>%d %s</h1>`, code, http.StatusText(code))
		h.rawf(`<p>%s</p>`, message)
		h.raw(`<p><a href="/dashboard">Back to dashboard</a></p></div>`)
	})
}
