package analytics

import "fmt"

// rule inspects a report and may contribute one insight or recommendation.
// Rules are independent of each other and evaluated in declaration order,
// so the output is order-stable. The list is not exhaustive; several rules
// may fire for the same report.
type rule struct {
	apply func(r *Report) (insight, recommendation string)
}

var rules = []rule{
	{func(r *Report) (string, string) {
		if r.TotalSessions == 0 {
			return "No tracked activity in this period.", "Start tracking to build up your productivity picture."
		}
		return "", ""
	}},
	{func(r *Report) (string, string) {
		for _, d := range r.Distribution {
			if d.Category == "focus" && d.Percent >= 50 {
				return fmt.Sprintf("Focused work made up %.0f%% of your tracked time.", d.Percent), ""
			}
		}
		return "", ""
	}},
	{func(r *Report) (string, string) {
		for _, d := range r.Distribution {
			if d.Category == "break" && d.Percent >= 30 {
				return fmt.Sprintf("Breaks took %.0f%% of your tracked time.", d.Percent),
					"Consider shorter, more regular breaks instead of long ones."
			}
		}
		return "", ""
	}},
	{func(r *Report) (string, string) {
		if r.CompletedSessions >= 3 && r.AvgDurationMs > 0 && r.AvgDurationMs < 10*60*1000 {
			return "Your sessions are short and fragmented.",
				"Try batching similar work to build longer focus blocks."
		}
		return "", ""
	}},
	{func(r *Report) (string, string) {
		if r.PeakHour != nil {
			return fmt.Sprintf("You are most productive around %02d:00.", *r.PeakHour),
				fmt.Sprintf("Schedule demanding work near %02d:00 when you perform best.", *r.PeakHour)
		}
		return "", ""
	}},
	{func(r *Report) (string, string) {
		switch r.Trend {
		case TrendImproving:
			return "Your productivity is trending up.", ""
		case TrendDeclining:
			return "Your productivity is trending down.",
				"Review what changed recently; small schedule adjustments often help."
		}
		return "", ""
	}},
	{func(r *Report) (string, string) {
		if r.GoalProgress == nil {
			return "", ""
		}
		if r.GoalProgress.Percent >= 100 {
			return fmt.Sprintf("Goal met: %.1fh tracked against a %.1fh target.",
				r.GoalProgress.TrackedHours, r.GoalProgress.TargetHours), ""
		}
		if r.GoalProgress.Percent < 50 {
			return "", fmt.Sprintf("You are below half of your %.1fh goal; plan a catch-up block.",
				r.GoalProgress.TargetHours)
		}
		return "", ""
	}},
}

// applyRules runs every rule against the report and collects the non-empty
// results in rule order.
func applyRules(r *Report) (insights, recommendations []string) {
	insights = []string{}
	recommendations = []string{}
	for _, rule := range rules {
		insight, rec := rule.apply(r)
		if insight != "" {
			insights = append(insights, insight)
		}
		if rec != "" {
			recommendations = append(recommendations, rec)
		}
	}
	return insights, recommendations
}
