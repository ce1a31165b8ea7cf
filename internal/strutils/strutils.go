// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package strutils provides string list helpers.
package strutils

import "strings"

// StrListContains looks for a string in a list of strings. The comparison is
// exact: no trimming, case folding or wildcards.
func StrListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// RemoveDuplicatesStable removes duplicate and empty elements from a slice of
// strings, preserving the order of the original slice. Strings are compared
// after trimming whitespace, and the trimmed value is returned.
func RemoveDuplicatesStable(items []string) []string {
	itemsMap := make(map[string]struct{}, len(items))
	deduplicated := make([]string, 0, len(items))

	for _, item := range items {
		key := strings.TrimSpace(item)
		if key == "" {
			continue
		}
		if _, ok := itemsMap[key]; ok {
			continue
		}
		itemsMap[key] = struct{}{}
		deduplicated = append(deduplicated, key)
	}
	return deduplicated
}
