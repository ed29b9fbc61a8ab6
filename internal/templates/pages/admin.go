package pages

import (
	"context"
	"time"

	"github.com/a-h/templ"
)

// SweepView summarises a sweep run from the admin page.
type SweepView struct {
	Removed      int
	StillFailing int
	Renewed      int
	Skipped      bool
}

// AdminWhitelistData is the admin overview of every active grant.
type AdminWhitelistData struct {
	Configured bool
	Now        time.Time
	Entries    []EntryView
	Sweep      *SweepView
}

// AdminWhitelistPage lists every active grant and offers a manual sweep.
func AdminWhitelistPage(d AdminWhitelistData) templ.Component {
	return page("Whitelist", func(ctx context.Context, h *htmlWriter) {
		if !d.Configured {
			h.raw(`<div class="banner warn">Firewall integration is not configured; grants cannot be added or removed.</div>`)
		}
		if s := d.Sweep; s != nil {
			if s.Skipped {
				h.raw(`<div class="banner warn">A sweep was already running.</div>`)
			} else {
				h.rawf(`<div class="banner ok">Sweep removed %d, still failing %d, renewed %d.</div>`,
					s.Removed, s.StillFailing, s.Renewed)
			}
		}

		h.raw(`<div class="card"><h1>Active whitelist entries</h1>`)
		h.rawf(`<p class="muted">As of %s.</p>`, d.Now.Format(timeFormat))
		if len(d.Entries) == 0 {
			h.raw(`<p class="muted">No active entries.</p>`)
		} else {
			writeEntries(h, d.Entries, true)
		}
		h.raw(`<div class="actions"><form method="post" action="/admin/whitelist/sweep">`)
		h.csrfField(csrfFrom(ctx))
		h.raw(`<button type="submit">Sweep expired now</button></form></div></div>`)
	})
}
