// Package registry provides the concurrent agent directory of the tasknet
// substrate. It indexes agents by identity, type, and capability, delivers
// group broadcasts and topic publish/subscribe, and keeps itself free of
// stale entries by watching every registered handle for termination.
//
// The registry is an owned structure, not ambient state: multiple isolated
// instances can coexist, each linearizing its own mutations so the
// canonical record and its secondary indexes never diverge.
package registry
