// Package access implements the projection algorithm that redacts a
// document tree down to what a given set of held roles may see.
package access

// Operation identifies one of the six role-gated operations a policy
// descriptor's require/allow keys can name. Write/create/delete are
// reserved: the vocabulary exists so a future write path has somewhere to
// enforce against, but no handler in this revision triggers them.
type Operation string

const (
	OpReadData   Operation = "read_data"
	OpReadMeta   Operation = "read_meta"
	OpWriteData  Operation = "write_data"
	OpWriteMeta  Operation = "write_meta"
	OpCreateData Operation = "create_data"
	OpDeleteData Operation = "delete_data"
)

var allOperations = [...]Operation{
	OpReadData, OpReadMeta, OpWriteData, OpWriteMeta, OpCreateData, OpDeleteData,
}

// RoleSet is a set of role names, represented as a map for O(1) membership
// and to collapse duplicate entries (spec edge case: duplicate roles
// collapse).
type RoleSet map[string]struct{}

// NewRoleSet builds a RoleSet from a slice of role names.
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

// Clone returns an independent copy of s.
func (s RoleSet) Clone() RoleSet {
	c := make(RoleSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Union returns a new set containing every role in s or other.
func (s RoleSet) Union(other RoleSet) RoleSet {
	c := s.Clone()
	for r := range other {
		c[r] = struct{}{}
	}
	return c
}

// Intersects reports whether s and other share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for r := range small {
		if _, ok := big[r]; ok {
			return true
		}
	}
	return false
}

// rolesPermitted is the six-operation accumulator maintained while
// descending the tree (spec §3 "RolesPermitted"). A nil RoleSet for an
// operation means that operation has never been constrained by any
// require/allow from the root down to here, i.e. no policy exists for it
// yet; a non-nil (possibly empty) RoleSet means some node has applied a
// policy that covers that operation, and membership is decided by
// ordinary intersection.
type rolesPermitted map[Operation]RoleSet

func newRolesPermitted() rolesPermitted {
	rp := make(rolesPermitted, len(allOperations))
	for _, op := range allOperations {
		rp[op] = nil
	}
	return rp
}

// enterPolicy copies rp for a node that is applying its own meta
// descriptor. Per invariant P3, an operation with no policy anywhere
// above this node is admin-like (unrestricted); but the moment a node
// applies any policy at all, every operation that descriptor leaves
// unmentioned defaults to nobody rather than staying unrestricted, since
// that node has now opted its subtree into the policy regime. Operations
// already locked by an ancestor keep their inherited RoleSet unchanged.
func (rp rolesPermitted) enterPolicy() rolesPermitted {
	c := make(rolesPermitted, len(rp))
	for op, set := range rp {
		if set == nil {
			c[op] = RoleSet{}
			continue
		}
		c[op] = set.Clone()
	}
	return c
}

// permits reports whether held satisfies the accumulated requirement for
// op, honoring invariant I3: an empty held-role set is root-equivalent and
// passes every check. A nil accumulated RoleSet means op has never been
// constrained by any policy node seen so far, which invariant P3 treats
// as admin-like for any non-empty held set.
func (rp rolesPermitted) permits(op Operation, held RoleSet) bool {
	if len(held) == 0 {
		return true
	}
	if rp[op] == nil {
		return true
	}
	return held.Intersects(rp[op])
}
