/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package resources

import (
	"embed"
	"io/fs"
)

//go:embed public
var public embed.FS

// Public returns the static files served for every non-API path, rooted so
// that "demo/landing.html" is the landing page.
func Public() fs.FS {
	sub, err := fs.Sub(public, "public")
	if err != nil {
		panic(err)
	}
	return sub
}
