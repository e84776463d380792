/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// Package assets serves the static files behind every non-API path.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/kentakayama/capgate/resources"
)

var ErrNotDirectory = errors.New("assets path is not a directory")

// Server looks request paths up in a file tree. Directories are not listed
// and answer 404 like missing files.
type Server struct {
	fsys  fs.FS
	files http.Handler
}

func New(fsys fs.FS) *Server {
	return &Server{fsys: fsys, files: http.FileServerFS(fsys)}
}

// Open serves dir, or the embedded bundle when dir is empty.
func Open(dir string) (*Server, error) {
	if dir == "" {
		return New(resources.Public()), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open assets: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}
	return New(os.DirFS(dir)), nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}
	info, err := fs.Stat(s.fsys, name)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	s.files.ServeHTTP(w, r)
}
