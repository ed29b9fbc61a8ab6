package pages

import (
	"context"

	"github.com/a-h/templ"
)

// LoginPage renders the sign-in form. username is echoed back after a
// failed attempt; errMsg is shown above the form.
func LoginPage(csrfToken, username, errMsg string) templ.Component {
	return page("Sign in", func(_ context.Context, h *htmlWriter) {
		h.raw(`<div class="card" style="max-width:24rem;margin:4rem auto">`)
		h.raw(`<h1>Sign in</h1>`)
		if errMsg != "" {
			h.rawf(`<div class="banner err">%s</div>`, errMsg)
		}
		h.raw(`<form method="post" action="/login">`)
		h.csrfField(csrfToken)
		h.raw(`<label for="username">Username</label>`)
		h.rawf(`<input id="username" name="username" autocomplete="username" required autofocus value="%s">`, username)
		h.raw(`<label for="password">Password</label>`)
		h.raw(`<input id="password" name="password" type="password" autocomplete="current-password" required>`)
		h.raw(`<div class="actions"><button type="submit">Sign in</button></div></form></div>`)
	})
}
