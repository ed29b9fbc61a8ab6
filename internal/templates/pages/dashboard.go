package pages

import (
	"context"
	"time"

	"github.com/a-h/templ"
)

// timeFormat is how expiry times are shown on every page.
const timeFormat = "2006-01-02 15:04 MST"

// LinkView is one portal link shown on the dashboard.
type LinkView struct {
	Title string
	URL   string
	Icon  string
	Group string
}

// EntryView is one whitelist grant.
type EntryView struct {
	Username    string
	WhitelistID string
	IP          string
	ExpiresAt   time.Time
}

// DashboardData is everything the dashboard shows.
type DashboardData struct {
	ClientIP   string
	Configured bool

	// Degraded is set after a login or refresh whose propagation did not
	// reach every target.
	Degraded bool

	// Revoked is the result of a revoke-all, shown when ShowRevoked is set.
	Revoked     int
	ShowRevoked bool

	Links   []LinkView
	Entries []EntryView
}

// DashboardPage renders the signed-in user's links and active grants with
// the refresh and revoke actions.
func DashboardPage(d DashboardData) templ.Component {
	return page("Dashboard", func(ctx context.Context, h *htmlWriter) {
		if d.Degraded {
			h.raw(`<div class="banner warn">Network access could not be granted on every service. `)
			h.raw(`Some links may be unreachable; try refreshing access or contact an administrator.</div>`)
		}
		if !d.Configured {
			h.raw(`<div class="banner warn">Firewall integration is not configured. Links are listed but access is not granted automatically.</div>`)
		}
		if d.ShowRevoked {
			h.rawf(`<div class="banner ok">Revoked %d whitelist entries.</div>`, d.Revoked)
		}

		h.raw(`<div class="card"><h2>Your services</h2>`)
		if len(d.Links) == 0 {
			h.raw(`<p class="muted">You are not a member of any group with links.</p>`)
		} else {
			h.raw(`<table><thead><tr><th>Service</th><th>Group</th></tr></thead><tbody>`)
			for _, l := range d.Links {
				h.raw(`<tr><td>`)
				if l.Icon != "" {
					h.raw(`<img alt="" width="16" height="16" src="`)
					h.href(l.Icon)
					h.raw(`"> `)
				}
				h.raw(`<a target="_blank" rel="noopener" href="`)
				h.href(l.URL)
				h.rawf(`">%s</a></td><td>%s</td></tr>`, l.Title, l.Group)
			}
			h.raw(`</tbody></table>`)
		}
		h.raw(`</div>`)

		h.raw(`<div class="card"><h2>Network access</h2>`)
		h.rawf(`<p>Your current IP address is <strong>%s</strong>.</p>`, d.ClientIP)
		if len(d.Entries) == 0 {
			h.raw(`<p class="muted">No active whitelist entries.</p>`)
		} else {
			writeEntries(h, d.Entries, false)
		}
		csrf := csrfFrom(ctx)
		h.raw(`<div class="actions"><form method="post" action="/whitelist">`)
		h.csrfField(csrf)
		h.raw(`<button type="submit">Refresh access</button></form>`)
		h.raw(`<form method="post" action="/whitelist/revoke">`)
		h.csrfField(csrf)
		h.raw(`<button type="submit">Revoke all</button></form></div></div>`)
	})
}

// writeEntries renders grants as a table, with the owning user when
// withUser is set.
func writeEntries(h *htmlWriter, entries []EntryView, withUser bool) {
	h.raw(`<table><thead><tr>`)
	if withUser {
		h.raw(`<th>User</th>`)
	}
	h.raw(`<th>Whitelist</th><th>IP</th><th>Expires</th></tr></thead><tbody>`)
	for _, e := range entries {
		h.raw(`<tr>`)
		if withUser {
			h.rawf(`<td>%s</td>`, e.Username)
		}
		h.rawf(`<td>%s</td><td>%s</td><td>%s</td></tr>`, e.WhitelistID, e.IP, e.ExpiresAt.Format(timeFormat))
	}
	h.raw(`</tbody></table>`)
}
