package models

// PointsFor is the single source of truth for the points a report
// category awards. Report creation credits this amount; deletion of an
// unresolved report debits exactly the same amount.
func PointsFor(category ReportCategory) int {
	switch category {
	case CategoryHazardous:
		return 20
	case CategoryLarge:
		return 15
	default:
		return 10
	}
}
