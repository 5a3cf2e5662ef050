package access

import "github.com/rhymu8354/alfred/internal/domain/document"

// Get runs the full projection algorithm from spec §4.1: descend to path
// under an accumulating RolesPermitted, then recursively project the
// subtree found there. It never mutates tree. A missing path element or a
// fully redacted result both surface as document.Null, matching the public
// API's "invalid maps to null" rule.
func Get(tree document.Value, path []string, held RoleSet) document.Value {
	node := tree
	rp := newRolesPermitted()

	for _, key := range path {
		if node.IsPolicyNode() {
			rp = applyMeta(node.Get("meta"), rp)
			node = node.Get("data")
		}
		node = index(node, key)
		if node.IsInvalid() {
			return document.Null
		}
	}

	projected := project(node, rp, held)
	if projected.IsInvalid() {
		return document.Null
	}
	return projected
}

// index steps into a single key of an object node. Arrays and scalars have
// no named children, so any index into them is invalid — this is the same
// sentinel a missing object key produces.
func index(node document.Value, key string) document.Value {
	if node.Kind != document.KindObject {
		return document.Invalid
	}
	return node.Get(key)
}

// project recursively rebuilds node into a redacted copy under the
// RolesPermitted accumulated so far, per spec §4.1 step 2. It gates plain
// object/array/scalar content on OpReadData, the ordinary data-visibility
// operation.
func project(node document.Value, rp rolesPermitted, held RoleSet) document.Value {
	return projectAs(node, rp, held, OpReadData)
}

// projectAs is project's generalization: readOp names which operation
// gates the plain object/array/scalar cases below. A policy node's own
// "data" branch always recurses via OpReadData and its "meta" branch
// always recurses via OpReadMeta, regardless of the readOp the caller was
// projecting under — this is what lets a meta descriptor's own nested
// require/allow arrays stay visible once read_meta is granted, even when
// that same descriptor requires a different role set for read_data.
func projectAs(node document.Value, rp rolesPermitted, held RoleSet, readOp Operation) document.Value {
	switch {
	case node.IsPolicyNode():
		rp = applyMeta(node.Get("meta"), rp)
		dataProjection := projectAs(node.Get("data"), rp, held, OpReadData)
		// An empty held set (the admin path) reads through policy nodes to
		// their data unchanged, with no data/meta wrapper.
		if len(held) > 0 && rp.permits(OpReadMeta, held) {
			metaProjection := projectAs(node.Get("meta"), rp, held, OpReadMeta)
			return document.Value{
				Kind: document.KindObject,
				Object: map[string]document.Value{
					"data": dataProjection,
					"meta": metaProjection,
				},
			}
		}
		return dataProjection

	case node.Kind == document.KindObject:
		result := make(map[string]document.Value, len(node.Object))
		for k, v := range node.Object {
			p := projectAs(v, rp, held, readOp)
			if !p.IsInvalid() {
				result[k] = p
			}
		}
		if rp.permits(readOp, held) || len(result) > 0 {
			return document.Value{Kind: document.KindObject, Object: result}
		}
		return document.Invalid

	case node.Kind == document.KindArray:
		if !rp.permits(readOp, held) {
			return document.Invalid
		}
		result := make([]document.Value, 0, len(node.Array))
		for _, e := range node.Array {
			p := projectAs(e, rp, held, readOp)
			if !p.IsInvalid() {
				result = append(result, p)
			}
		}
		return document.Value{Kind: document.KindArray, Array: result}

	default: // scalar: null, bool, number, string
		if rp.permits(readOp, held) {
			return node
		}
		return document.Invalid
	}
}

// applyMeta folds a policy node's meta descriptor into rp, following the
// require-replaces / allow-unions rule, plus the write-implies-read rule
// (spec §3): allow.write_data also unions into read_data, allow.write_meta
// into read_meta.
func applyMeta(meta document.Value, rp rolesPermitted) rolesPermitted {
	next := rp.enterPolicy()

	if require := meta.Get("require"); require.Kind == document.KindObject {
		for _, op := range allOperations {
			if raw, ok := require.Object[string(op)]; ok {
				next[op] = rolesFromValue(raw)
			}
		}
	}

	if allow := meta.Get("allow"); allow.Kind == document.KindObject {
		for _, op := range allOperations {
			if raw, ok := allow.Object[string(op)]; ok {
				next[op] = next[op].Union(rolesFromValue(raw))
			}
		}
		if raw, ok := allow.Object[string(OpWriteData)]; ok {
			next[OpReadData] = next[OpReadData].Union(rolesFromValue(raw))
		}
		if raw, ok := allow.Object[string(OpWriteMeta)]; ok {
			next[OpReadMeta] = next[OpReadMeta].Union(rolesFromValue(raw))
		}
	}

	return next
}

// rolesFromValue reads a JSON array of role-name strings into a RoleSet.
// Non-string entries are ignored rather than rejected; this mirrors the
// engine's general policy of treating malformed policy metadata as absent
// rather than fatal.
func rolesFromValue(v document.Value) RoleSet {
	if v.Kind != document.KindArray {
		return RoleSet{}
	}
	roles := make([]string, 0, len(v.Array))
	for _, e := range v.Array {
		if e.Kind == document.KindString {
			roles = append(roles, e.String)
		}
	}
	return NewRoleSet(roles...)
}
