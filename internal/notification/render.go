package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/bher20/watermeter/internal/storage"
)

var paymentHTML = template.Must(template.New("payment").Parse(`<h2>Water bill {{.Period}}</h2>
<table>
<tr><th>Service</th><th>Volume, m³</th><th>Rate</th><th>Amount</th></tr>
<tr><td>Cold water</td><td>{{.P.ColdWaterConsumption}}</td><td>{{.P.ColdWaterRate.StringFixed 2}}</td><td>{{.P.ColdWaterAmount.StringFixed 2}}</td></tr>
<tr><td>Hot water</td><td>{{.P.HotWaterConsumption}}</td><td>{{.P.HotWaterRate.StringFixed 2}}</td><td>{{.P.HotWaterAmount.StringFixed 2}}</td></tr>
<tr><td>Wastewater</td><td>{{.P.WastewaterConsumption}}</td><td>{{.P.WastewaterRate.StringFixed 2}}</td><td>{{.P.WastewaterAmount.StringFixed 2}}</td></tr>
</table>
<p><b>Total: {{.P.TotalAmount.StringFixed 2}}</b></p>
{{if .P.Notes}}<p>{{.P.Notes}}</p>{{end}}<p><small>Reference {{.P.Reference}}</small></p>
`))

func period(p storage.Payment) string {
	return fmt.Sprintf("%s – %s", p.PeriodStart.Format("02.01.2006"), p.PeriodEnd.Format("02.01.2006"))
}

// RenderPayment builds the subject and the HTML and plain-text bodies of a
// payment notice.
func RenderPayment(p storage.Payment) (subject, html, text string, err error) {
	subject = "Water bill " + p.PeriodStart.Format("01/2006") + ": " + p.TotalAmount.StringFixed(2)

	var buf bytes.Buffer
	if err := paymentHTML.Execute(&buf, struct {
		Period string
		P      storage.Payment
	}{period(p), p}); err != nil {
		return "", "", "", fmt.Errorf("render payment: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Water bill %s\n\n", period(p))
	fmt.Fprintf(&b, "Cold water: %d m³ x %s = %s\n", p.ColdWaterConsumption, p.ColdWaterRate.StringFixed(2), p.ColdWaterAmount.StringFixed(2))
	fmt.Fprintf(&b, "Hot water:  %d m³ x %s = %s\n", p.HotWaterConsumption, p.HotWaterRate.StringFixed(2), p.HotWaterAmount.StringFixed(2))
	fmt.Fprintf(&b, "Wastewater: %d m³ x %s = %s\n", p.WastewaterConsumption, p.WastewaterRate.StringFixed(2), p.WastewaterAmount.StringFixed(2))
	fmt.Fprintf(&b, "\nTotal: %s\n", p.TotalAmount.StringFixed(2))
	if p.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", p.Notes)
	}
	fmt.Fprintf(&b, "Reference %s\n", p.Reference)
	return subject, buf.String(), b.String(), nil
}
