// internal/workers/compliance/sweep-overdue-observations/models.go
package sweepoverdue

type Input struct {
	// AsOf overrides the sweep time (RFC3339). Defaults to the current time.
	AsOf string `json:"asOf,omitempty"`
}

type Output struct {
	Accepted  int    `json:"sweepAccepted"`
	Failed    int    `json:"sweepFailed"`
	Skipped   int    `json:"sweepSkipped"`
	Contended bool   `json:"sweepContended"`
	SweptAt   string `json:"sweptAt"`
}
