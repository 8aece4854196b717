// Package accesslog records one row per authenticated API request and
// serves the admin views over that history.
//
// Requests are recorded asynchronously through a Recorder so the request
// path never waits on storage. When the buffer is full entries are dropped
// and counted.
package accesslog
