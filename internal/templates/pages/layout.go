package pages

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/keyxmakerx/loginfirewall/internal/templates/layouts"
)

const styles = `body{font-family:system-ui,sans-serif;margin:0;background:#f4f5f7;color:#1f2933}
nav{display:flex;gap:1rem;align-items:center;padding:.75rem 1.5rem;background:#1f2933;color:#fff}
nav a{color:#fff;text-decoration:none}nav .spacer{flex:1}
nav button{background:none;border:1px solid #fff;color:#fff;border-radius:4px;padding:.25rem .75rem;cursor:pointer}
main{max-width:56rem;margin:2rem auto;padding:0 1rem}
.card{background:#fff;border-radius:8px;padding:1.5rem;margin-bottom:1.5rem;box-shadow:0 1px 3px rgba(0,0,0,.1)}
.banner{padding:.75rem 1rem;border-radius:6px;margin-bottom:1rem}
.ok{background:#e3f9e5;color:#05400a}.warn{background:#fffbea;color:#8d2b0b}.err{background:#ffe3e3;color:#610316}
table{width:100%;border-collapse:collapse}th,td{text-align:left;padding:.5rem;border-bottom:1px solid #e4e7eb}
label{display:block;margin:.75rem 0 .25rem}input{width:100%;padding:.5rem;box-sizing:border-box}
.actions{display:flex;gap:.5rem;margin-top:1rem}.muted{color:#7b8794}`

// page wraps body in the shared chrome: navigation for signed-in users and
// the flash banners stored by the handler.
func page(title string, body func(ctx context.Context, h *htmlWriter)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.rawf(`<title>%s - LoginFirewall</title>`, title)
		h.raw(`<style>` + styles + `</style></head><body>`)

		if layouts.IsAuthenticated(ctx) {
			h.raw(`<nav><a href="/dashboard">Dashboard</a><a href="/profile">Profile</a>`)
			if layouts.GetIsAdmin(ctx) {
				h.raw(`<a href="/admin/whitelist">Admin</a>`)
			}
			h.rawf(`<span class="spacer"></span><span>%s</span>`, layouts.GetUserName(ctx))
			h.raw(`<form method="post" action="/logout">`)
			h.csrfField(layouts.GetCSRFToken(ctx))
			h.raw(`<button type="submit">Sign out</button></form></nav>`)
		}

		h.raw(`<main>`)
		if msg := layouts.GetFlashSuccess(ctx); msg != "" {
			h.rawf(`<div class="banner ok">%s</div>`, msg)
		}
		if msg := layouts.GetFlashError(ctx); msg != "" {
			h.rawf(`<div class="banner err">%s</div>`, msg)
		}
		body(ctx, h)
		h.raw(`</main></body></html>`)
		return h.err
	})
}

func csrfFrom(ctx context.Context) string {
	return layouts.GetCSRFToken(ctx)
}
