package cdns_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/cdns"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	path := filepath.Join(t.TempDir(), "capture.cdns")

	fw, err := cdns.NewFileWriter(path, &cdns.WriterConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, fw.AddQueryResponse(ctx, newTestQueryResponse(0)))

	// Nothing is visible under the target path until Close.
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, fw.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	blocks := readTestCapture(t, data)
	require.Len(t, blocks, 1)

	assert.Len(t, blocks[0].QueryResponses, 1)
}

func TestFileWriter_cleanup(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.cdns")

	fw, err := cdns.NewFileWriter(path, &cdns.WriterConfig{
		Logger: slogutil.NewDiscardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, fw.AddQueryResponse(ctx, newTestQueryResponse(0)))
	require.NoError(t, fw.Cleanup())

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	ents, err := os.ReadDir(dir)
	require.NoError(t, err)

	assert.Empty(t, ents)
}
