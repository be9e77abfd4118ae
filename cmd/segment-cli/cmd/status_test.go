package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentcore/segmentcore/internal/ui"
)

func buildSegment(t *testing.T, dir string, n, dim int) {
	t.Helper()
	writeSchema(t, dir, dim)
	build := newBuildCmd()
	build.SetOut(&bytes.Buffer{})
	build.SetIn(strings.NewReader(sampleRecords(n, dim)))
	build.SetArgs([]string{dir, "--no-tui"})
	require.NoError(t, build.Execute())
}

func TestStatusCmd_ReportsPointCountAfterBuild(t *testing.T) {
	dir := t.TempDir()
	buildSegment(t, dir, 6, 3)

	cmd := newStatusCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--json"})

	require.NoError(t, cmd.Execute())

	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, 6, info.TotalPoints)
	assert.Equal(t, 1, info.FieldIndices)
	assert.Equal(t, "none", info.QuantizationKind)
	assert.Equal(t, "n/a", info.QuantizationStatus)
}

func TestStatusCmd_ErrorsWithoutSchema(t *testing.T) {
	dir := t.TempDir()

	cmd := newStatusCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{dir})

	assert.Error(t, cmd.Execute())
}
