package zoraxy

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// csrfMetaName is the <meta name=...> marker Zoraxy embeds in login.html.
const csrfMetaName = "zoraxy.csrf.token"

// maxLoginPageBytes bounds how much of the login page is scanned.
const maxLoginPageBytes = 1 << 20

// extractCSRFMeta scans an HTML document for the CSRF meta marker and
// returns its content, or "" if absent. Attribute names and the marker
// value are matched case-insensitively.
func extractCSRFMeta(r io.Reader) string {
	z := html.NewTokenizer(io.LimitReader(r, maxLoginPageBytes))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var name, content string
			for _, a := range tok.Attr {
				switch strings.ToLower(a.Key) {
				case "name":
					name = a.Val
				case "content":
					content = a.Val
				}
			}
			if strings.EqualFold(name, csrfMetaName) && content != "" {
				return content
			}
		}
	}
}
