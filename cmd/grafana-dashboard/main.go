package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grafana/grafana-foundation-sdk/go/common"
	"github.com/grafana/grafana-foundation-sdk/go/dashboard"
	"github.com/grafana/grafana-foundation-sdk/go/prometheus"
	"github.com/grafana/grafana-foundation-sdk/go/timeseries"
)

const prefix = "shinbo_notifier_"

func query(expr, legend string) *prometheus.DataqueryBuilder {
	return prometheus.NewDataqueryBuilder().Expr(expr).LegendFormat(legend)
}

// rate sums the 5m rate of a counter, optionally split by a label.
func rate(metric, by string) string {
	if by == "" {
		return fmt.Sprintf("sum(rate(%s%s[5m]))", prefix, metric)
	}
	return fmt.Sprintf("sum by (%s) (rate(%s%s[5m]))", by, prefix, metric)
}

func average(histogram, by string) string {
	if by == "" {
		return fmt.Sprintf("%s / %s", rate(histogram+"_sum", ""), rate(histogram+"_count", ""))
	}
	return fmt.Sprintf("%s / %s", rate(histogram+"_sum", by), rate(histogram+"_count", by))
}

func panel(title string, targets ...*prometheus.DataqueryBuilder) *timeseries.PanelBuilder {
	p := timeseries.NewPanelBuilder().Title(title)
	for _, target := range targets {
		p = p.WithTarget(target)
	}
	return p
}

func buildDashboard() (dashboard.Dashboard, error) {
	builder := dashboard.NewDashboardBuilder("Shinbo Notifier").
		Uid("shinbo-notifier").
		Tags([]string{"shinbo", "notifier", "prometheus"}).
		Refresh("1m").
		Time("now-24h", "now").
		Timezone(common.TimeZoneBrowser)

	builder = builder.WithRow(dashboard.NewRowBuilder("Executions")).
		WithPanel(panel("Execution rate",
			query(rate("execution_success_total", ""), "success"),
			query(rate("execution_failure_total", ""), "failure"),
		)).
		WithPanel(panel("Execution duration avg",
			query(average("execution_duration_seconds", ""), "avg"),
		)).
		WithPanel(panel("Last run status",
			query(prefix+"last_run_status", "status"),
		))

	builder = builder.WithRow(dashboard.NewRowBuilder("Sources")).
		WithPanel(panel("Source outcomes",
			query(rate("source_runs_total", "source, outcome"), "{{source}} {{outcome}}"),
		)).
		WithPanel(panel("Active postings per source",
			query(fmt.Sprintf("max by (source) (%ssource_postings_current)", prefix), "{{source}}"),
		)).
		WithPanel(panel("New postings",
			query(rate("postings_new_total", "source"), "{{source}}"),
		)).
		WithPanel(panel("Fetch duration avg",
			query(average("source_fetch_duration_seconds", "source"), "{{source}}"),
		)).
		WithPanel(panel("Stateful API attempts",
			query(rate("source_attempts_total", "source, result"), "{{source}} {{result}}"),
		))

	builder = builder.WithRow(dashboard.NewRowBuilder("Delivery")).
		WithPanel(panel("Deliveries",
			query(rate("deliveries_total", "transport, result"), "{{transport}} {{result}}"),
		)).
		WithPanel(panel("Delivery duration avg",
			query(average("delivery_duration_seconds", "transport"), "{{transport}}"),
		)).
		WithPanel(panel("Mirror publishes",
			query(rate("mirror_publishes_total", "notifier, result"), "{{notifier}} {{result}}"),
		)).
		WithPanel(panel("Registered destinations",
			query(prefix+"destinations_registered", "destinations"),
		))

	builder = builder.WithRow(dashboard.NewRowBuilder("State store")).
		WithPanel(panel("Store errors",
			query(rate("store_operation_errors_total", "operation"), "{{operation}}"),
		)).
		WithPanel(panel("Errors",
			query(rate("errors_total", ""), "errors"),
		))

	return builder.Build()
}

func main() {
	dashboardJSON, err := buildDashboard()
	if err != nil {
		panic(err)
	}

	outputPath := os.Getenv("DASHBOARD_OUT")
	if outputPath == "" {
		outputPath = "dashboard.json"
	}

	payload, err := json.MarshalIndent(dashboardJSON, "", "  ")
	if err != nil {
		panic(err)
	}

	if err := os.WriteFile(outputPath, payload, 0o600); err != nil {
		panic(err)
	}

	fmt.Printf("dashboard written to %s\n", outputPath)
}
