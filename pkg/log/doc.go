// Package log wraps zerolog with Windrose's logging conventions: a global
// logger initialized once at process start, console or JSON output, and
// child-logger helpers that stamp the component, tenant, job or worker
// fields used throughout the control plane.
package log
