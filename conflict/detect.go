// Package conflict implements field-wise conflict detection, automatic
// merging of non-conflicting edits, and a timed resolution protocol for the
// conflicts that remain.
package conflict

import (
	"bytes"
	"encoding/json"
)

// Fields returns the conflicting field names between server and client
// versions of an entity. With a base (common-ancestor) version, a field
// conflicts only when server and client both independently diverged from the
// base; a field changed by exactly one side is not a conflict. Without a
// base, any server/client difference is conflicting.
func Fields(server, client, base map[string]interface{}) []string {
	var conflicting []string
	for _, key := range unionKeys(server, client, base) {
		sv, sok := server[key]
		cv, cok := client[key]

		if presentEqual(sv, sok, cv, cok) {
			continue
		}

		if base == nil {
			conflicting = append(conflicting, key)
			continue
		}

		bv, bok := base[key]
		serverChanged := !presentEqual(sv, sok, bv, bok)
		clientChanged := !presentEqual(cv, cok, bv, bok)
		if serverChanged && clientChanged {
			conflicting = append(conflicting, key)
		}
	}
	return conflicting
}

// AutoMerge attempts to merge the client's non-conflicting changes on top of
// the server version. It starts from the server object and, for every
// non-conflicting field the client changed relative to base (or that simply
// differs when no base is supplied), takes the client's value. The merge is
// reported successful only when no conflicting fields remain.
func AutoMerge(server, client, base map[string]interface{}) (map[string]interface{}, []string, bool) {
	conflicting := Fields(server, client, base)
	isConflict := make(map[string]bool, len(conflicting))
	for _, f := range conflicting {
		isConflict[f] = true
	}

	merged := make(map[string]interface{}, len(server))
	for k, v := range server {
		merged[k] = v
	}

	for _, key := range unionKeys(server, client, base) {
		if isConflict[key] {
			continue
		}
		cv, cok := client[key]

		if base != nil {
			bv, bok := base[key]
			if presentEqual(cv, cok, bv, bok) {
				continue // client did not touch this field
			}
		} else {
			sv, sok := server[key]
			if presentEqual(cv, cok, sv, sok) {
				continue
			}
		}

		if cok {
			merged[key] = cv
		} else {
			delete(merged, key)
		}
	}

	return merged, conflicting, len(conflicting) == 0
}

// presentEqual compares two optional values, treating absence as distinct
// from any present value.
func presentEqual(a interface{}, aok bool, b interface{}, bok bool) bool {
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return valueEqual(a, b)
}

// valueEqual compares values through their canonical JSON form, so numeric
// representations and nested maps compare by content.
func valueEqual(a, b interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func unionKeys(maps ...map[string]interface{}) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range maps {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}
