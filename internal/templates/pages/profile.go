package pages

import (
	"context"

	"github.com/a-h/templ"
)

// ProfilePage renders the change-password form.
func ProfilePage(username, errMsg string) templ.Component {
	return page("Profile", func(ctx context.Context, h *htmlWriter) {
		h.raw(`<div class="card" style="max-width:28rem">`)
		h.rawf(`<h1>%s</h1><h2>Change password</h2>`, username)
		if errMsg != "" {
			h.rawf(`<div class="banner err">%s</div>`, errMsg)
		}
		h.raw(`<form method="post" action="/profile/password">`)
		h.csrfField(csrfFrom(ctx))
		h.raw(`<label for="current_password">Current password</label>`)
		h.raw(`<input id="current_password" name="current_password" type="password" autocomplete="current-password" required>`)
		h.raw(`<label for="new_password">New password</label>`)
		h.raw(`<input id="new_password" name="new_password" type="password" autocomplete="new-password" minlength="8" required>`)
		h.raw(`<label for="confirm">Confirm new password</label>`)
		h.raw(`<input id="confirm" name="confirm" type="password" autocomplete="new-password" required>`)
		h.raw(`<div class="actions"><button type="submit">Update password</button></div></form></div>`)
	})
}
