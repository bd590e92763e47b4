package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatNumber": formatNumber,
	"persisted":    persistedText,
	"pct":          func(f float64) string { return fmt.Sprintf("%.2f%%", f) },
	"ms":           func(f float64) string { return fmt.Sprintf("%.3fms", f) },
	"wps":          func(f float64) string { return fmt.Sprintf("%.0f/s", f) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.SinkType}} {{.Measurement}} - tsbench report</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; color: #1e293b; margin: 2rem; }
        table { border-collapse: collapse; margin-bottom: 2rem; }
        th, td { border: 1px solid #e2e8f0; padding: 0.3rem 0.8rem; text-align: right; }
        th { background: #f8fafc; text-align: left; }
        .warn { color: #b45309; }
        .error { color: #dc2626; }
    </style>
</head>
<body>
<h1>{{.SinkType}} <small>{{.Measurement}}</small></h1>
<p>Run {{.RunID}}: {{.Config.Workers}} writers, {{.Config.Ticks}} ticks of {{.Config.BatchSize}} records every {{.Config.Tick}}</p>

<h2>Results</h2>
<table>
    <tr><th>Expected</th><td>{{formatNumber .Totals.Expected}}</td></tr>
    <tr><th>Generated</th><td>{{formatNumber .Totals.Generated}}</td></tr>
    <tr><th>Persisted</th><td>{{persisted .Totals.Persisted}}</td></tr>
    <tr><th>Rate</th><td>{{pct .Totals.RatePercent}}</td></tr>
    <tr><th>Throughput</th><td>{{wps .Totals.Throughput}}</td></tr>
    <tr><th>Write failures</th><td>{{formatNumber .Totals.WriteFailures}}</td></tr>
    <tr><th>Duration</th><td>{{.DurationMillis}}ms</td></tr>
</table>
{{if .Totals.AboveExpected}}<p class="warn">Persisted count is above expected, records may be duplicated.</p>{{end}}
{{with .Errors.Query}}<p class="error">Count query failed: {{.}}</p>{{end}}
{{with .Errors.Finish}}<p class="error">Flushing the sink failed: {{.}}</p>{{end}}
{{with .Errors.AbandonedWorkers}}<p class="warn">Writers that did not stop in time: {{.}}</p>{{end}}

<h2>Write latency</h2>
<table>
    <tr><th>Min</th><th>Mean</th><th>P50</th><th>P90</th><th>P95</th><th>P99</th><th>Max</th></tr>
    <tr><td>{{ms .Latency.Min}}</td><td>{{ms .Latency.Mean}}</td><td>{{ms .Latency.P50}}</td><td>{{ms .Latency.P90}}</td><td>{{ms .Latency.P95}}</td><td>{{ms .Latency.P99}}</td><td>{{ms .Latency.Max}}</td></tr>
</table>
{{if .TimeSeries}}
<h2>Time series</h2>
<table>
    <tr><th>Time</th><th>Phase</th><th>Writes</th><th>Rate</th><th>Errors</th><th>P95</th><th>Writers</th></tr>
    {{range .TimeSeries}}<tr><td>{{.Timestamp}}</td><td>{{.Phase}}</td><td>{{formatNumber .Writes}}</td><td>{{wps .WPS}}</td><td>{{pct .ErrorRate}}</td><td>{{ms .P95Millis}}</td><td>{{.ActiveWorkers}}</td></tr>
    {{end}}
</table>
{{end}}
</body>
</html>
`))

func renderHTML(r *Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func persistedText(n *int64) string {
	if n == nil {
		return "not counted"
	}
	return formatNumber(*n)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
