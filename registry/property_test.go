package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/tasknet-io/tasknet/types"
)

// TestProperty_CapabilityIndexConsistency checks that for any sequence of
// register/update/unregister operations, FindByCapability returns exactly
// the live agents whose current capability set contains the capability.
func TestProperty_CapabilityIndexConsistency(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := New(zap.NewNop())

		// Model: agent id -> capability set.
		model := make(map[string]map[string]struct{})
		handles := make(map[string]*LocalHandle)

		agentIDs := []string{"a1", "a2", "a3", "a4"}
		capPool := []string{"lint", "codegen", "search", "review"}

		numOps := rapid.IntRange(1, 40).Draw(rt, "numOps")
		for i := 0; i < numOps; i++ {
			id := rapid.SampledFrom(agentIDs).Draw(rt, fmt.Sprintf("id_%d", i))
			op := rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("op_%d", i))

			caps := rapid.SliceOfNDistinct(rapid.SampledFrom(capPool), 0, len(capPool),
				rapid.ID[string]).Draw(rt, fmt.Sprintf("caps_%d", i))

			switch op {
			case 0: // register
				h := NewLocalHandle(1)
				err := r.Register(id, h, types.AgentMetadata{
					Type:         types.TypeAnalysis,
					Capabilities: caps,
				})
				if _, exists := model[id]; exists {
					require.Error(rt, err)
				} else {
					require.NoError(rt, err)
					handles[id] = h
					set := make(map[string]struct{}, len(caps))
					for _, c := range caps {
						set[c] = struct{}{}
					}
					model[id] = set
				}
			case 1: // update capabilities
				err := r.Update(id, types.MetadataUpdate{Capabilities: caps})
				if _, exists := model[id]; exists {
					require.NoError(rt, err)
					set := make(map[string]struct{}, len(caps))
					for _, c := range caps {
						set[c] = struct{}{}
					}
					model[id] = set
				} else {
					require.Error(rt, err)
				}
			case 2: // unregister
				err := r.Unregister(id)
				if _, exists := model[id]; exists {
					require.NoError(rt, err)
					delete(model, id)
					delete(handles, id)
				} else {
					require.Error(rt, err)
				}
			}
		}

		// The registry must agree with the model for every capability.
		for _, c := range capPool {
			var want []string
			for id, set := range model {
				if _, ok := set[c]; ok {
					want = append(want, id)
				}
			}
			var got []string
			for _, rec := range r.FindByCapability(c) {
				got = append(got, rec.ID)
			}
			require.ElementsMatch(rt, want, got, "capability %q", c)
		}
	})
}
