// Package types defines the shared data model of the tasknet coordination
// substrate: task and workflow specifications, agent metadata, and the
// unified error taxonomy used across registry, coordinator, governor, and
// state machine.
package types
