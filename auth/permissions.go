// Copyright (C) 2025 Arclab, Inc.
// See LICENSE for copying information.

package auth

import "strings"

// A permission is "action:resource" or the literal "*". Three wildcard
// forms exist and no others:
//
//	*               matches anything
//	action:*        matches any resource of that action
//	action:prefix*  matches resources with that prefix
//
// Check is a total function and independent of storage state.

// Check reports whether user may perform required. Admins bypass pattern
// matching entirely.
func Check(user *User, required string) bool {
	if user == nil {
		return false
	}
	if user.IsAdmin {
		return true
	}
	for _, pattern := range user.Permissions {
		if Matches(pattern, required) {
			return true
		}
	}
	return false
}

// Matches reports whether pattern covers required.
func Matches(pattern, required string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == required {
		return true
	}
	patternAction, patternResource, ok := strings.Cut(pattern, ":")
	if !ok {
		return false
	}
	requiredAction, requiredResource, ok := strings.Cut(required, ":")
	if !ok || patternAction != requiredAction {
		return false
	}
	if patternResource == "*" {
		return true
	}
	if prefix, found := strings.CutSuffix(patternResource, "*"); found {
		return strings.HasPrefix(requiredResource, prefix)
	}
	return false
}

// Attach derives the request-scoped permission state: the union of the
// permission sets mapped from the user's groups, plus the admin flag.
func Attach(user *User, permissions []string, adminGroups []string) {
	user.Permissions = permissions
	for _, permission := range permissions {
		if permission == "*" {
			user.IsAdmin = true
		}
	}
	for _, group := range user.Groups {
		for _, admin := range adminGroups {
			if group == admin {
				user.IsAdmin = true
			}
		}
	}
}
