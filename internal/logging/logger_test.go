package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCategoryLog(t *testing.T, home string, cat Category) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(home, "logs", "*_"+string(cat)+".log"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected one log file for %s", cat)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestProductionModeWritesNothing(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, Initialize(home, Options{DebugMode: false}))
	t.Cleanup(CloseAll)

	Session("should not appear")

	_, err := os.Stat(filepath.Join(home, "logs"))
	assert.True(t, os.IsNotExist(err), "logs dir must not be created when debug mode is off")
	assert.False(t, IsDebugMode())
	assert.False(t, IsCategoryEnabled(CategorySession))
}

func TestDebugModeWritesPerCategoryFiles(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, Initialize(home, Options{DebugMode: true, Level: "debug"}))
	t.Cleanup(CloseAll)

	categories := []Category{
		CategorySession,
		CategoryGateway,
		CategoryStore,
		CategoryConversation,
		CategoryPipeline,
		CategoryUI,
	}
	for _, cat := range categories {
		Get(cat).Info("hello from %s", cat)
	}
	CloseAll()

	for _, cat := range categories {
		content := readCategoryLog(t, home, cat)
		assert.Contains(t, content, "hello from "+string(cat))
	}
}

func TestCategoryToggle(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, Initialize(home, Options{
		DebugMode:  true,
		Categories: map[string]bool{"ui": false},
	}))
	t.Cleanup(CloseAll)

	assert.False(t, IsCategoryEnabled(CategoryUI))
	assert.True(t, IsCategoryEnabled(CategoryPipeline), "unlisted categories default to enabled")

	UI("dropped")
	matches, _ := filepath.Glob(filepath.Join(home, "logs", "*_ui.log"))
	assert.Empty(t, matches)
}

func TestLevelFilterAndJSONFormat(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, Initialize(home, Options{DebugMode: true, Level: "warn", Format: "json"}))
	t.Cleanup(CloseAll)

	PipelineDebug("debug line")
	Pipeline("info line")
	PipelineWarn("warn line")
	Get(CategoryPipeline).With("conversation", "c-1").Error("error line")
	CloseAll()

	content := readCategoryLog(t, home, CategoryPipeline)
	assert.NotContains(t, content, "debug line")
	assert.NotContains(t, content, "info line")
	assert.Contains(t, content, `"msg":"warn line"`)
	assert.Contains(t, content, `"conversation":"c-1"`)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(content), "\n")+1)
}

func TestInitializeRequiresHome(t *testing.T) {
	assert.Error(t, Initialize("", Options{}))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	l.Info("nothing")
	l.With("k", "v").Error("still nothing")
}
