package http

import (
	"fmt"
	"html"
	"strings"

	"github.com/paygate-protocol/paygate"
)

// paywallHTML renders the minimal browser-facing 402 page listing the
// accepted payment options.
func paywallHTML(accepts []paygate.PaymentRequirements, description string) string {
	var rows strings.Builder
	for _, req := range accepts {
		rows.WriteString(fmt.Sprintf(
			"<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(req.Scheme),
			html.EscapeString(string(req.Network)),
			html.EscapeString(req.Amount),
			html.EscapeString(req.PayTo),
		))
	}
	desc := ""
	if description != "" {
		desc = "<p>" + html.EscapeString(description) + "</p>\n"
	}
	return `<!DOCTYPE html>
<html>
<head><title>Payment Required</title></head>
<body>
<h1>402 Payment Required</h1>
` + desc + `<p>This resource requires payment. Retry the request with an X-Payment header.</p>
<table>
<tr><th>Scheme</th><th>Network</th><th>Amount</th><th>Pay To</th></tr>
` + rows.String() + `</table>
</body>
</html>
`
}
