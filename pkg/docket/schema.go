package docket

import "fmt"

// Redis key pattern helpers
//
// Key pattern: tribunal:{namespace}:run:{run_id}
// Index pattern: tribunal:{namespace}:runs
// Channel pattern: tribunal:{namespace}:run_events

// RunKey returns the Redis key for a stored run.
func RunKey(namespace, runID string) string {
	return fmt.Sprintf("tribunal:%s:run:%s", namespace, runID)
}

// RunIndexKey returns the Redis key of the ZSET indexing runs by finish time (ms).
func RunIndexKey(namespace string) string {
	return fmt.Sprintf("tribunal:%s:runs", namespace)
}

// RunEventsChannel returns the Pub/Sub channel carrying run summaries.
func RunEventsChannel(namespace string) string {
	return fmt.Sprintf("tribunal:%s:run_events", namespace)
}
