package objectmanager

import (
	"sort"
	"strings"

	"github.com/anvilfs/anvil/pkg/types"
)

// mergeByDelimiter computes S3-style common-prefix listing: first-level
// objects directly under prefix, and one common prefix per distinct
// path segment that has any descendant beyond the next delimiter.
func mergeByDelimiter(objs []*types.Object, prefix, delimiter string, limit int) *ListResult {
	seenPrefixes := make(map[string]bool)
	var entries []string
	byEntry := make(map[string]*types.Object)

	for _, obj := range objs {
		rest := strings.TrimPrefix(obj.Key, prefix)
		if idx := strings.Index(rest, delimiter); idx >= 0 {
			commonPrefix := prefix + rest[:idx+len(delimiter)]
			if !seenPrefixes[commonPrefix] {
				seenPrefixes[commonPrefix] = true
				entries = append(entries, commonPrefix)
			}
			continue
		}
		entries = append(entries, obj.Key)
		byEntry[obj.Key] = obj
	}

	sort.Strings(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	result := &ListResult{}
	for _, e := range entries {
		if obj, ok := byEntry[e]; ok {
			result.Objects = append(result.Objects, obj)
		} else {
			result.CommonPrefixes = append(result.CommonPrefixes, e)
		}
	}
	return result
}
