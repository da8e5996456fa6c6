// Package coordinator routes single tasks to capability-matching agents
// and executes declared multi-step workflows as dependency DAGs. It leans
// on the registry for discovery, on an externally supplied supervisor for
// starting and stopping agents, and on each dispatched agent's own governor
// for resilience: the coordinator itself never retries a failed step and
// applies no step-level timeout.
package coordinator
