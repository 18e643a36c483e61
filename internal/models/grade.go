package models

// GradeResult is the grading outcome of a single student answer sheet.
type GradeResult struct {
	Student string  `json:"student"`
	Correct int     `json:"correct"`
	Wrong   int     `json:"wrong"`
	Score   float64 `json:"score"`
}

// GradeSummary aggregates the results of a grading run.
type GradeSummary struct {
	Students int     `json:"students"`
	Average  float64 `json:"average"`
	Highest  float64 `json:"highest"`
}
