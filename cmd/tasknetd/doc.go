// Command tasknetd runs the tasknet coordination substrate as a service:
// an agent registry, a task coordinator, and a state machine engine behind
// a small HTTP surface with health, status, and Prometheus metrics.
package main
