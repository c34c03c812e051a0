// Package docket persists audit reports in Redis so past runs can be listed,
// inspected and followed live.
//
// Each run is stored as a hash holding its summary fields plus the full report
// JSON. A sorted set indexes runs by finish time, and every saved run is
// announced on a Pub/Sub channel. All keys are namespaced, allowing several
// tribunal deployments to share one Redis server.
package docket
