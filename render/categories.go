package render

import "strings"

// Category is one chart slot on the dashboard.
type Category struct {
	Name  string // file prefix, e.g. "cpu_usage"
	Title string
}

// Categories lists the dashboard slots in display order.
var Categories = []Category{
	{Name: "summary", Title: "Summary Metrics"},
	{Name: "aggregates", Title: "Aggregate Metrics"},
	{Name: "cpu_usage", Title: "CPU Usage"},
	{Name: "memory_usage", Title: "Memory Usage"},
	{Name: "network_traffic", Title: "Network Traffic"},
	{Name: "error_rates", Title: "Error Rates"},
	{Name: "packet_processing_time", Title: "Packet Processing Time"},
	{Name: "packet_drop_rate", Title: "Packet Drop Rate"},
	{Name: "lease_allocation_time", Title: "Lease Allocation Time"},
	{Name: "database_query_performance", Title: "Database Query Performance"},
}

// CleanName turns a section title into a file prefix: "Packet Drop Rate" -> "packet_drop_rate".
func CleanName(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_")
}

// ChartFile is the name of the chart for prefix at stamp.
func ChartFile(prefix, stamp string) string {
	return prefix + "_" + stamp + ".png"
}

// LatestFile is the name the dashboard loads for prefix.
func LatestFile(prefix string) string {
	return prefix + "_latest.png"
}
