package condition

import (
	"sort"

	"github.com/renku/pipeline-engine/pkg/expand"
)

// FanInValue is the runtime shape a fan-in input resolves to (spec §4.7 step
// 5): Groups[k] is the ordered list of canonical source ids in group k, a
// dense vector with empty groups represented explicitly.
type FanInValue struct {
	GroupBy string     `json:"groupBy,omitempty"`
	OrderBy string     `json:"orderBy,omitempty"`
	Groups  [][]string `json:"groups"`
}

// MaterializeGroups turns an expand.FanInDescriptor's flat Members list into
// the dense group-of-groups the Runner hands to Produce. A copy of the members
// is sorted by group ascending, then order ascending within a group, so each
// group comes out ordered whatever order fd.Members is in; fd is not modified.
func MaterializeGroups(fd *expand.FanInDescriptor) FanInValue {
	members := make([]expand.FanInMember, len(fd.Members))
	copy(members, fd.Members)
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Group != members[j].Group {
			return members[i].Group < members[j].Group
		}
		return members[i].Order < members[j].Order
	})

	maxGroup := -1
	for _, m := range members {
		if m.Group > maxGroup {
			maxGroup = m.Group
		}
	}

	groups := make([][]string, maxGroup+1)
	for i := range groups {
		groups[i] = []string{}
	}
	for _, m := range members {
		groups[m.Group] = append(groups[m.Group], m.ID)
	}

	return FanInValue{GroupBy: fd.GroupBy, OrderBy: fd.OrderBy, Groups: groups}
}
