package volume

import (
	"fmt"
	"strings"
)

// Rendering functions assume their names passed Validate.

// RenderTotalVolumeQuery renders the cumulative volume query, parameterized by $block
func RenderTotalVolumeQuery(f EntityField) string {
	return fmt.Sprintf("query get_total_volume($block: Int) { %s(block: { number: $block }) { %s } }",
		f.Entity, f.Field)
}

// RenderDailyVolumeQuery renders the per-day aggregate query, parameterized by $id
func RenderDailyVolumeQuery(d DailyEntityField) string {
	return fmt.Sprintf("query get_daily_volume($id: Int) { %s(id: $id) { %s } }", d.Entity, d.Field)
}

// RenderCustomDailyQuery wraps a custom daily query body into a document.
// Bodies that are already complete documents are returned unchanged.
func RenderCustomDailyQuery(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "query") {
		return trimmed
	}
	return fmt.Sprintf("query get_daily_volume { %s }", trimmed)
}

// RenderDailyRecordsQuery renders the query listing every per-day record dated dayStart
func RenderDailyRecordsQuery(d DailyEntityField, dayStart int64) string {
	return fmt.Sprintf("{ %s(where: { %s: %d }) { %s %s } }",
		Pluralize(d.Entity), d.DateField, dayStart, d.DateField, d.Field)
}

// RenderStartQuery renders the query listing the earliest per-day records
func RenderStartQuery(q StartQuery, first int) string {
	return fmt.Sprintf("{ %s(first: %d, orderBy: %s, orderDirection: asc) { %s %s } }",
		q.DailyDataField, first, q.DateField, q.DateField, q.VolumeField)
}
