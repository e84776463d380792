/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"net/http"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kentakayama/capgate/internal/config"
)

// aliasTable maps request paths onto asset paths. The first matching rule
// wins.
type aliasTable []config.AliasRule

func newAliasTable(rules []config.AliasRule) aliasTable {
	t := make(aliasTable, 0, len(rules))
	for _, r := range rules {
		if r.Redirect != "" && r.Status == 0 {
			r.Status = http.StatusFound
		}
		t = append(t, r)
	}
	return t
}

func (t aliasTable) match(path string) (config.AliasRule, bool) {
	for _, r := range t {
		// Patterns are checked by config validation; a bad one never matches.
		if ok, _ := doublestar.Match(r.Match, path); ok {
			return r, true
		}
	}
	return config.AliasRule{}, false
}
