package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCategoryLog(t *testing.T, dir string, category Category) string {
	t.Helper()
	name := time.Now().Format("2006-01-02") + "_" + string(category) + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func TestDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{DebugMode: false, LogsDir: dir}))
	t.Cleanup(CloseAll)

	assert.False(t, IsDebugMode())
	Get(CategorySupervisor).Info("should not appear")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCategoryFilesAreWritten(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{DebugMode: true, Level: "debug", LogsDir: dir}))
	t.Cleanup(CloseAll)

	Get(CategoryRPC).Debug("sent %s id=%d", "callTool", 7)
	Get(CategoryRPC).With("server", "fs").Warn("slow response")
	CloseAll()

	out := readCategoryLog(t, dir, CategoryRPC)
	assert.Contains(t, out, "sent callTool id=7")
	assert.Contains(t, out, "slow response")
	assert.Contains(t, out, "fs")
}

func TestCategoryFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{
		DebugMode:  true,
		LogsDir:    dir,
		Categories: map[string]bool{"model": false},
	}))
	t.Cleanup(CloseAll)

	assert.False(t, IsCategoryEnabled(CategoryModel))
	assert.True(t, IsCategoryEnabled(CategoryStore))

	Get(CategoryModel).Error("hidden")
	_, err := os.Stat(filepath.Join(dir, time.Now().Format("2006-01-02")+"_model.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestLevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{DebugMode: true, Level: "warn", JSONFormat: true, LogsDir: dir}))
	t.Cleanup(CloseAll)

	l := Get(CategoryExtractor)
	l.Info("info line")
	l.Error("error line")
	CloseAll()

	out := readCategoryLog(t, dir, CategoryExtractor)
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, `"msg":"error line"`)
}

func TestConcurrentGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(Config{DebugMode: true, LogsDir: dir}))
	t.Cleanup(CloseAll)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Get(CategoryOrchestrator).Info("worker %d", n)
		}(i)
	}
	wg.Wait()
	CloseAll()

	out := readCategoryLog(t, dir, CategoryOrchestrator)
	assert.Equal(t, 20, strings.Count(out, "worker "))
}
