// Package auth implements Anvil's scope grammar and coverage rules.
//
// Grounded directly on original_source/anvil-core/src/permissions.rs: the
// closed AnvilAction taxonomy and the coverage/resource-match rules, ported
// from Rust's Display/FromStr enum to Go typed string constants with an
// explicit switch.
package auth

import "strings"

// Action is a token drawn from the closed authorization action enum.
type Action string

const (
	ActionAll Action = "*"

	ActionBucketAll    Action = "bucket:*"
	ActionBucketCreate Action = "bucket:create"
	ActionBucketDelete Action = "bucket:delete"
	ActionBucketRead   Action = "bucket:read"
	ActionBucketWrite  Action = "bucket:write"
	ActionBucketList   Action = "bucket:list"

	ActionObjectAll    Action = "object:*"
	ActionObjectRead   Action = "object:read"
	ActionObjectWrite  Action = "object:write"
	ActionObjectDelete Action = "object:delete"
	ActionObjectList   Action = "object:list"

	ActionHFKeyAll    Action = "hf_key:*"
	ActionHFKeyCreate Action = "hf_key:create"
	ActionHFKeyRead   Action = "hf_key:read"
	ActionHFKeyDelete Action = "hf_key:delete"
	ActionHFKeyList   Action = "hf_key:list"

	ActionHFIngestionAll    Action = "hf_ingestion:*"
	ActionHFIngestionCreate Action = "hf_ingestion:create"
	ActionHFIngestionRead   Action = "hf_ingestion:read"
	ActionHFIngestionDelete Action = "hf_ingestion:delete"

	ActionPolicyAll    Action = "policy:*"
	ActionPolicyGrant  Action = "policy:grant"
	ActionPolicyRevoke Action = "policy:revoke"

	ActionInternalPutShard    Action = "internal:put_shard"
	ActionInternalGetShard    Action = "internal:get_shard"
	ActionInternalCommitShard Action = "internal:commit_shard"
	ActionInternalDeleteShard Action = "internal:delete_shard"
)

// categoryWildcards maps each category wildcard to the prefix it covers.
var categoryWildcards = map[Action]string{
	ActionBucketAll:      "bucket:",
	ActionObjectAll:      "object:",
	ActionHFKeyAll:       "hf_key:",
	ActionHFIngestionAll: "hf_ingestion:",
	ActionPolicyAll:      "policy:",
}

// ActionCoversRequired reports whether tokenAction authorizes
// requiredAction: equal, the matching category wildcard, or the universal
// wildcard.
func ActionCoversRequired(tokenAction, requiredAction Action) bool {
	if tokenAction == ActionAll {
		return true
	}
	if tokenAction == requiredAction {
		return true
	}
	if prefix, ok := categoryWildcards[tokenAction]; ok {
		return strings.HasPrefix(string(requiredAction), prefix)
	}
	return false
}

// ResourceMatches reports whether pattern authorizes the required resource
// string: universal "*", a prefix pattern ending in "*", or an exact match.
func ResourceMatches(required, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(required, strings.TrimSuffix(pattern, "*"))
	}
	return required == pattern
}

// Scope is one `action|resource-pattern` entry materialized into a Claims'
// Scopes list at token-mint time.
type Scope struct {
	Action  Action
	Pattern string
}

// ParseScope splits a "action|resource-pattern" string. The action is kept
// as the raw token (not validated against the closed enum here) so that
// unrecognized future actions fail coverage checks rather than parsing.
func ParseScope(s string) (Scope, bool) {
	idx := strings.IndexByte(s, '|')
	if idx < 0 {
		return Scope{}, false
	}
	return Scope{Action: Action(s[:idx]), Pattern: s[idx+1:]}, true
}

// String renders a Scope back to its canonical "action|pattern" form.
func (sc Scope) String() string {
	return string(sc.Action) + "|" + sc.Pattern
}

// Authorize reports whether any of scopes covers (requiredAction,
// requiredResource).
func Authorize(scopes []string, requiredAction Action, requiredResource string) bool {
	for _, raw := range scopes {
		sc, ok := ParseScope(raw)
		if !ok {
			continue
		}
		if ActionCoversRequired(sc.Action, requiredAction) && ResourceMatches(requiredResource, sc.Pattern) {
			return true
		}
	}
	return false
}
