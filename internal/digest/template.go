// Package digest renders the daily market update and mails it to every subscriber.
package digest

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/JakeFAU/market-update/internal/market"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "Daily Market Update: S&P 500 and Nasdaq-100"

// text/template plus the html escaper keeps values like "+1.2%" byte-for-byte;
// html/template would rewrite "+" as "&#43;".
var bodyTemplate = template.Must(template.New("digest").Parse(`
<h1>Daily Market Update</h1>
<p>Here are the latest updates for the stock market:</p>
<ul>
{{- range .}}
    <li><strong>{{html .Index.Name}} ({{html .Index.Symbol}}):</strong> ${{html .LatestValue}} ({{html .PercentageChange}})</li>
{{- end}}
</ul>
<p>Thank you for subscribing to our daily market updates!</p>
`))

// Render builds the HTML body for the given quotes, in order.
func Render(quotes []market.IndexQuote) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, quotes); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}
