/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package commands

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kentakayama/capgate/internal/config"
	"github.com/kentakayama/capgate/internal/server"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("v1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3\n", out)
}

func TestMigrate_SQLite(t *testing.T) {
	db := filepath.Join(t.TempDir(), "capgate.db")
	path := writeConfig(t, "log:\n  level: error\n")

	out, err := runCmd(t, "migrate", "--config", path, "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema at version 1 (latest 1)")
	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestMigrate_MemoryHasNoSchema(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	_, err := runCmd(t, "migrate", "--config", path, "--store", "memory")
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	db := filepath.Join(t.TempDir(), "capgate.db")
	path := writeConfig(t, "log:\n  level: error\n")

	out, err := runCmd(t, "sweep", "--config", path, "--sqlite-path", db)
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 challenges and 0 tokens")
}

func TestLoad_InvalidFlag(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	_, err := runCmd(t, "sweep", "--config", path, "--store", "etcd")
	assert.Error(t, err)
}

func TestSelftest(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.Pow.ChallengeCount = 2
	cfg.Pow.ChallengeDifficulty = 2

	srv, err := server.New(context.Background(), cfg)
	require.NoError(t, err)
	defer srv.Shutdown(context.Background())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	out, err := runCmd(t, "selftest", "--url", ts.URL, "--timeout", "30s")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}
