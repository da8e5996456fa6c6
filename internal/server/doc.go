// Package server manages the lifecycle of tasknetd's HTTP listener:
// non-blocking start, asynchronous error reporting, and signal-driven
// graceful shutdown.
package server
