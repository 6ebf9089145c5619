// Package heartbeat polls the controller status on a fixed period to detect a connection
// that dropped between commands.
//
// The monitor shares the serialized transport session with motion commands. A poll that
// times out is counted; reaching the failure threshold, a hard I/O error, a malformed reply
// or a controller reporting FAULT or OFFLINE is reported as a Loss exactly once until the
// monitor is reset.
package heartbeat
