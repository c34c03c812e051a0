package docket

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dyluth/tribunal/pkg/audit"
)

// Summary fields are stored individually so listings never decode the report.

// ReportToHash converts a report to its Redis hash form.
func ReportToHash(r *audit.Report) (map[string]interface{}, error) {
	reportJSON, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	s := r.Summary()
	return map[string]interface{}{
		"run_id":          s.RunID,
		"target":          s.Target,
		"aggregate_score": strconv.FormatFloat(s.AggregateScore, 'f', 2, 64),
		"criteria":        s.Criteria,
		"dissent_count":   s.DissentCount,
		"failure_count":   s.FailureCount,
		"capped":          strconv.FormatBool(s.Capped),
		"finished_at_ms":  s.FinishedAtMs,
		"report":          string(reportJSON),
	}, nil
}

// HashToReport decodes the full report from a Redis hash.
func HashToReport(hash map[string]string) (*audit.Report, error) {
	raw, ok := hash["report"]
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing report field")
	}
	var r audit.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

// HashToSummary decodes the summary fields of a Redis hash.
func HashToSummary(hash map[string]string) (audit.RunSummary, error) {
	var s audit.RunSummary
	var err error

	s.RunID = hash["run_id"]
	if s.RunID == "" {
		return s, fmt.Errorf("missing run_id field")
	}
	s.Target = hash["target"]

	if s.AggregateScore, err = strconv.ParseFloat(hash["aggregate_score"], 64); err != nil {
		return s, fmt.Errorf("invalid aggregate_score field: %w", err)
	}
	if s.Criteria, err = strconv.Atoi(hash["criteria"]); err != nil {
		return s, fmt.Errorf("invalid criteria field: %w", err)
	}
	if s.DissentCount, err = strconv.Atoi(hash["dissent_count"]); err != nil {
		return s, fmt.Errorf("invalid dissent_count field: %w", err)
	}
	if s.FailureCount, err = strconv.Atoi(hash["failure_count"]); err != nil {
		return s, fmt.Errorf("invalid failure_count field: %w", err)
	}
	if s.Capped, err = strconv.ParseBool(hash["capped"]); err != nil {
		return s, fmt.Errorf("invalid capped field: %w", err)
	}
	if s.FinishedAtMs, err = strconv.ParseInt(hash["finished_at_ms"], 10, 64); err != nil {
		return s, fmt.Errorf("invalid finished_at_ms field: %w", err)
	}
	return s, nil
}
