package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmentcore/segmentcore/internal/config"
)

func writeSchema(t *testing.T, dir string, dim int) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.VectorDim = dim
	cfg.Fields = []config.FieldSchema{
		{Name: "category", Kind: config.FieldKindKeyword},
	}
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, "segment.yaml")))
}

func sampleRecords(n, dim int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		vec := make([]string, dim)
		for d := 0; d < dim; d++ {
			vec[d] = fmt.Sprintf("%f", float64(i+d)/10.0)
		}
		fmt.Fprintf(&b, `{"offset":%d,"vector":[%s],"payload":{"category":"c%d"}}`+"\n",
			i, strings.Join(vec, ","), i%2)
	}
	return b.String()
}

func TestBuildCmd_InsertsAndFlushesSegment(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, 4)

	cmd := newBuildCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(sampleRecords(5, 4)))
	cmd.SetArgs([]string{dir, "--no-tui"})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, filepath.Join(dir, "segment.json"))
}

func TestBuildCmd_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeSchema(t, dir, 2)

	input := `{"offset":0,"vector":[0.1,0.2],"payload":{}}` + "\n" +
		"not json\n" +
		`{"offset":1,"vector":[0.3,0.4],"payload":{}}` + "\n"

	cmd := newBuildCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs([]string{dir, "--no-tui"})

	require.NoError(t, cmd.Execute())
}
