package definition

import (
	"fmt"

	fleans "github.com/nightBaker/fleans-sub002"
)

// Validate checks the structural invariants of the process graph:
//
//   - every activity id is unique
//   - every flow and error connection references defined activities
//   - no activity declares more than one default (unconditional) flow
//   - the graph has at least one start event
//   - every non-start activity is reachable from some start event
//
// It returns a *fleans.DefinitionError describing the first violation
// found. A definition that fails validation must not be registered.
func (d *ProcessDefinition) Validate() error {
	byID := make(map[string]Activity, len(d.Activities))
	for _, a := range d.Activities {
		if _, dup := byID[a.ID]; dup {
			return d.fail(fmt.Sprintf("duplicate activity id %q", a.ID))
		}
		byID[a.ID] = a
	}

	defaults := make(map[string]int)
	for _, f := range d.Flows {
		if _, ok := byID[f.SourceID]; !ok {
			return d.fail(fmt.Sprintf("flow %q references undefined source activity %q", f.ID, f.SourceID))
		}
		if _, ok := byID[f.TargetID]; !ok {
			return d.fail(fmt.Sprintf("flow %q references undefined target activity %q", f.ID, f.TargetID))
		}
		if f.IsDefault() {
			defaults[f.SourceID]++
			if defaults[f.SourceID] > 1 {
				return d.fail(fmt.Sprintf("activity %q declares more than one default flow", f.SourceID))
			}
		}
	}

	for _, c := range d.ErrorConnections {
		if _, ok := byID[c.SourceID]; !ok {
			return d.fail(fmt.Sprintf("error connection %q references undefined source activity %q", c.ID, c.SourceID))
		}
		if _, ok := byID[c.TargetID]; !ok {
			return d.fail(fmt.Sprintf("error connection %q references undefined target activity %q", c.ID, c.TargetID))
		}
	}

	starts := d.StartActivities()
	if len(starts) == 0 {
		return d.fail("no start event defined")
	}

	// Reachability over both normal and error edges.
	reachable := make(map[string]bool, len(d.Activities))
	queue := make([]string, 0, len(starts))
	for _, s := range starts {
		reachable[s.ID] = true
		queue = append(queue, s.ID)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, f := range d.OutgoingFlows(cur) {
			if !reachable[f.TargetID] {
				reachable[f.TargetID] = true
				queue = append(queue, f.TargetID)
			}
		}
		for _, c := range d.OutgoingErrorConnections(cur) {
			if !reachable[c.TargetID] {
				reachable[c.TargetID] = true
				queue = append(queue, c.TargetID)
			}
		}
	}

	for _, a := range d.Activities {
		if !reachable[a.ID] {
			return d.fail(fmt.Sprintf("activity %q is unreachable from any start event", a.ID))
		}
	}

	return nil
}

func (d *ProcessDefinition) fail(reason string) error {
	return &fleans.DefinitionError{DefinitionID: d.ID.String(), Reason: reason}
}
