package rete

import (
	"github.com/l7mp/rete/pkg/tuple"
)

type commandKind int

const (
	// commandInitialize replays the parent's contents as insertions into a new child.
	commandInitialize commandKind = iota
	// commandRetract replays the parent's contents as deletions into a former child.
	commandRetract
)

// delayedCommand is a structural follow-up that runs once the network shape of the current
// batch is final, at the start of the next flush.
type delayedCommand struct {
	kind commandKind
	link *link
	// snapshot holds the parent contents captured when a link is removed
	snapshot []tuple.Stamped
}

// runDelayedCommands executes the queued commands. Contents are always pulled through synced
// links only, so a chain of new nodes is initialized exactly once: by the replay into its first
// new node, which then flows through the freshly synced links.
func (n *Network) runDelayedCommands() error {
	cmds := n.commands
	n.commands = nil
	if len(cmds) == 0 {
		return nil
	}

	for _, c := range cmds {
		l := c.link
		child := n.nodes[l.child]
		if child == nil {
			continue
		}

		var dir tuple.Direction
		var contents []tuple.Stamped
		switch c.kind {
		case commandInitialize:
			if l.removed || n.nodes[l.parent] == nil {
				continue
			}
			dir = tuple.Insert
			cs, err := n.contents(l.parent)
			if err != nil {
				return err
			}
			contents = cs
		case commandRetract:
			dir = tuple.Delete
			contents = c.snapshot
		}

		r, ok := child.(interface{ mailbox() mailbox })
		if !ok {
			continue
		}
		for _, st := range contents {
			if err := r.mailbox().post(n, l.slot, dir, st.Tuple, st.Timestamp); err != nil {
				return err
			}
		}
		n.log.V(2).Info("delayed command executed", "parent", n.nameOf(l.parent),
			"child", child.Name(), "direction", dir.String(), "tuples", len(contents))
	}

	for _, c := range cmds {
		if c.kind == commandInitialize && !c.link.removed {
			c.link.synced = true
		}
	}
	n.stats.DelayedCommands += len(cmds)
	return nil
}
