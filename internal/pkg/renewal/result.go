package renewal

// Result aggregates one renewal pass, whether scheduled or manually
// triggered. FailedRenewals counts both terminal failures and attempts that
// merely scheduled a retry; RetriesScheduled breaks the latter out for
// observability without changing the historical meaning of FailedRenewals.
type Result struct {
	TotalChecked       int      `json:"total_checked"`
	SuccessfulRenewals int      `json:"successful_renewals"`
	FailedRenewals     int      `json:"failed_renewals"`
	SkippedRenewals    int      `json:"skipped_renewals"`
	RetriesScheduled   int      `json:"retries_scheduled"`
	Errors             []string `json:"errors"`
	// InProgress marks the no-op result returned when a pass was already
	// running; no counters are populated in that case.
	InProgress bool `json:"in_progress,omitempty"`
}
