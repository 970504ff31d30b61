package models

// CategoryStat is one row of the grouped activity aggregate.
type CategoryStat struct {
	Category Category `json:"category"`
	Count    int64    `json:"count"`
	TotalMs  int64    `json:"total_ms"`
	AvgMs    float64  `json:"avg_ms"`
}

// TrendPoint is one row of the day x category x productivity-indicator
// grouping produced by the productivity-trends query.
type TrendPoint struct {
	Day        string   `json:"day"` // YYYY-MM-DD
	Category   Category `json:"category"`
	Productive string   `json:"productivity_indicator"`
	Count      int64    `json:"count"`
	AvgConf    float64  `json:"avg_confidence"`
}
