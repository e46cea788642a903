// Package client is a typed Go client for the Windrose HTTP API, used by
// external tooling and the test suite.
package client
