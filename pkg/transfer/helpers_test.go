package transfer

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"hive/pkg/core"
	"hive/pkg/hivetest"
	"hive/pkg/lock"
	"hive/pkg/operation"
	"hive/pkg/storage"
	"hive/pkg/types"
)

// countingStore 统计真正发生的写入次数
type countingStore struct {
	storage.Store
	puts atomic.Int32
}

func (s *countingStore) Put(ctx context.Context, obj core.Object) error {
	s.puts.Add(1)
	return s.Store.Put(ctx, obj)
}

type testHive struct {
	*hivetest.Fixture
	store *countingStore
	env   *operation.Env
}

func newTestHive(t *testing.T) *testHive {
	t.Helper()
	f := hivetest.New(t)
	store := &countingStore{Store: f.Objects}
	return &testHive{
		Fixture: f,
		store:   store,
		env: &operation.Env{
			Objects:    store,
			Manifests:  f.Manifests,
			MarkerRoot: filepath.Join(f.Root, "markers"),
		},
	}
}

func testLockOptions() lock.Options {
	return lock.Options{Content: "test", RetryInterval: time.Millisecond, MaxRetries: 1000}
}

// populate app:1 -> {bin/app, config.yaml, deps -> lib:1}, lib:1 -> {lib.so}
type populated struct {
	objects []types.ObjectID
	app     core.ManifestKey
	lib     core.ManifestKey
}

func populate(h *testHive) populated {
	libBlob := h.Blob("shared library")
	libRoot := h.Tree(hivetest.File("lib.so", libBlob))
	h.Manifest("lib", "1", libRoot)

	bin := h.Blob("#!/bin/sh\necho hi\n")
	cfg := h.Blob("port: 8080\n")
	binDir := h.Tree(hivetest.File("app", bin))
	ref := h.Ref("lib", "1")
	appRoot := h.Tree(
		hivetest.Dir("bin", binDir),
		hivetest.File("config.yaml", cfg),
		hivetest.RefEntry("deps", ref),
	)
	h.Manifest("app", "1", appRoot, "owner", "ops")

	return populated{
		objects: []types.ObjectID{libBlob, libRoot, bin, cfg, binDir, ref, appRoot},
		app:     hivetest.Key("app", "1"),
		lib:     hivetest.Key("lib", "1"),
	}
}
