package domain

import "github.com/shopspring/decimal"

// StatusTotal is the count and summed total price of orders in one status.
type StatusTotal struct {
	Status OrderStatus
	Count  int
	Total  decimal.Decimal
}

type StatsSummary struct {
	TotalOrders       int                 `json:"totalOrders"`
	TotalRevenue      decimal.Decimal     `json:"totalRevenue"`
	AverageOrderValue decimal.Decimal     `json:"averageOrderValue"`
	StatusCounts      map[OrderStatus]int `json:"statusCounts"`
}

// Summarize folds per-status totals into a StatsSummary. Cancelled and refunded
// orders are counted but excluded from revenue and the average order value.
func Summarize(totals []StatusTotal) StatsSummary {
	summary := StatsSummary{
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		StatusCounts:      make(map[OrderStatus]int, len(AllStatuses)),
	}
	for _, s := range AllStatuses {
		summary.StatusCounts[s] = 0
	}

	revenueOrders := 0
	for _, t := range totals {
		summary.TotalOrders += t.Count
		summary.StatusCounts[t.Status] += t.Count
		if t.Status == OrderStatusCancelled || t.Status == OrderStatusRefunded {
			continue
		}
		revenueOrders += t.Count
		summary.TotalRevenue = summary.TotalRevenue.Add(t.Total)
	}

	if revenueOrders > 0 {
		summary.AverageOrderValue = summary.TotalRevenue.Div(decimal.NewFromInt(int64(revenueOrders))).Round(2)
	}
	return summary
}
