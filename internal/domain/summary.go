package domain

// Summary is the human-readable digest of a Report.
type Summary struct {
	Listing             string     `json:"listing"`
	Repositories        int        `json:"repositories"`
	Entries             int        `json:"entries"`
	Counts              GradeCount `json:"counts"`
	MinDaysRemaining    int        `json:"min_days_remaining"`
	MedianDaysRemaining float64    `json:"median_days_remaining"`
	Overdue             int        `json:"overdue"`
}
