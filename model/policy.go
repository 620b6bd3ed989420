package model

import (
	"fmt"
	"strings"
)

// ListUpdatePolicy decides how a node's frequency list reacts to
// antenna changes. It is persisted per node.
type ListUpdatePolicy int

const (
	// AutoBuild rebuilds the list from hardware on every antenna change.
	AutoBuild ListUpdatePolicy = iota
	// LockList freezes the list; only the strongest frequency is recomputed.
	LockList
	// UpdateOnly is reserved for incremental updates and currently does nothing.
	UpdateOnly
)

func (p ListUpdatePolicy) String() string {
	switch p {
	case AutoBuild:
		return "AutoBuild"
	case LockList:
		return "LockList"
	case UpdateOnly:
		return "UpdateOnly"
	default:
		return fmt.Sprintf("ListUpdatePolicy(%d)", int(p))
	}
}

// ParseListUpdatePolicy accepts the names produced by String, case-insensitively.
// An empty string means AutoBuild.
func ParseListUpdatePolicy(s string) (ListUpdatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "autobuild", "auto_build", "auto":
		return AutoBuild, nil
	case "locklist", "lock_list", "lock":
		return LockList, nil
	case "updateonly", "update_only", "update":
		return UpdateOnly, nil
	default:
		return AutoBuild, fmt.Errorf("unknown list update policy %q", s)
	}
}
