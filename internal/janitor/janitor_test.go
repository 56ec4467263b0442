package janitor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/internal/ratelimit"
)

func TestJanitor_Sweep(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := job.NewRegistry(logger)
	root := t.TempDir()

	mkJob := func(id string) string {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "result.zip"), []byte("x"), 0o644))
		reg.Create(id, job.Options{}, "", dir)
		return dir
	}

	// One terminal job, one still processing.
	doneDir := mkJob("done")
	require.NoError(t, reg.StartProcessing("done", func() {}))
	require.NoError(t, reg.MarkCompleted("done", nil, filepath.Join(doneDir, "result.zip")))

	liveDir := mkJob("live")
	require.NoError(t, reg.StartProcessing("live", func() {}))

	jan := New(&Config{
		Logger:    logger,
		Registry:  reg,
		Limiter:   ratelimit.New(5, time.Hour),
		Retention: time.Hour,
		Schedule:  "@every 5m",
	})

	// First sweep: nothing has expired yet.
	jan.Sweep()
	_, err := reg.Get("done")
	assert.NoError(t, err)

	// Move time past retention.
	jan.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	jan.Sweep()

	// The terminal job and its files are gone; the live one is untouched.
	_, err = reg.Get("done")
	assert.ErrorIs(t, err, job.ErrNotFound)
	_, statErr := os.Stat(doneDir)
	assert.True(t, os.IsNotExist(statErr))

	live, err := reg.Get("live")
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, live.Status)
	_, statErr = os.Stat(liveDir)
	assert.NoError(t, statErr)
}
