// Package publisher defines the scan-completed notification sent to the
// configured poster.Publisher.
package publisher

import (
	"strconv"
	"time"

	"github.com/JakeFAU/posterwatch/internal/report"
)

// EventScanCompleted is the event attribute of ScanCompleted messages.
const EventScanCompleted = "scan.completed"

// ScanCompleted announces a finished bulk scan.
type ScanCompleted struct {
	Event      string    `json:"event"`
	RunID      string    `json:"run_id"`
	Total      int       `json:"total"`
	Ok         int       `json:"ok"`
	Errors     int       `json:"errors"`
	Pending    int       `json:"pending"`
	Canceled   bool      `json:"canceled"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ReportURI  string    `json:"report_uri,omitempty"`
}

// NewScanCompleted builds the notification from a run summary.
func NewScanCompleted(s report.Summary, reportURI string) ScanCompleted {
	return ScanCompleted{
		Event:      EventScanCompleted,
		RunID:      s.RunID,
		Total:      s.Total,
		Ok:         s.Ok,
		Errors:     s.Errors,
		Pending:    s.Pending,
		Canceled:   s.Canceled,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		ReportURI:  reportURI,
	}
}

// Attributes are attached to the message so subscribers can filter without
// decoding the body.
func (n ScanCompleted) Attributes() map[string]string {
	return map[string]string{
		"event":    n.Event,
		"run_id":   n.RunID,
		"errors":   strconv.Itoa(n.Errors),
		"canceled": strconv.FormatBool(n.Canceled),
	}
}
