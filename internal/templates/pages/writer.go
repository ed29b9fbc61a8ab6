// Package pages renders the portal's HTML pages as templ components. Page
// data is passed as plain view structs so this package never imports a
// plugin; session data comes from the layouts context helpers.
package pages

import (
	"fmt"
	"io"

	"github.com/a-h/templ"
)

// htmlWriter accumulates the first write error so page bodies can be
// written without checking every call.
type htmlWriter struct {
	w   io.Writer
	err error
}

// raw writes trusted markup.
func (h *htmlWriter) raw(s string) {
	if h.err != nil {
		return
	}
	_, h.err = io.WriteString(h.w, s)
}

// text writes s HTML-escaped.
func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

// rawf formats trusted markup. Every argument is escaped.
func (h *htmlWriter) rawf(format string, args ...any) {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = templ.EscapeString(fmt.Sprint(a))
	}
	h.raw(fmt.Sprintf(format, escaped...))
}

// csrfField writes the hidden form field checked by the CSRF middleware.
func (h *htmlWriter) csrfField(token string) {
	h.rawf(`<input type="hidden" name="csrf_token" value="%s">`, token)
}

// href writes an escaped URL attribute value. templ.URL replaces unsafe
// schemes such as javascript: with "about:invalid#TemplFailedSanitizationURL".
func (h *htmlWriter) href(u string) {
	h.text(string(templ.URL(u)))
}
