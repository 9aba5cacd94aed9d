package cli

import (
	"text/template"
	"time"

	"github.com/iudanet/cartsync/internal/models"
)

const cartTemplate = `=== Cart ===
{{- if not .Items }}
(empty)
{{- else }}
{{- range .Items }}
{{ printf "%-16s %-24s %4d x %8.2f" .ID (display .) .Quantity .Price }}
{{- end }}
{{- end }}

Items:        {{ .TotalItems }}
Total:        {{ printf "%.2f" .TotalAmount }}
Last updated: {{ updated .LastUpdated }}
`

var cartTmpl = template.Must(template.New("cart").Funcs(template.FuncMap{
	"display": func(item models.CartItem) string {
		if item.Name != "" {
			return item.Name
		}
		return "-"
	},
	"updated": func(ms int64) string {
		if ms == 0 {
			return "never"
		}
		return time.UnixMilli(ms).UTC().Format(time.RFC3339)
	},
}).Parse(cartTemplate))
