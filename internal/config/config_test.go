package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "cosine", cfg.Distance)
	assert.Equal(t, QuantizationNone, cfg.Quantization.Kind)
	assert.Equal(t, 32*1024*1024, cfg.Storage.ChunkSizeBytes)
	assert.Equal(t, 1024, cfg.Storage.InitialFlagCapacity)
	assert.False(t, cfg.Storage.Populate)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)
	assert.Equal(t, 5, cfg.Logging.MaxFiles)
	assert.True(t, cfg.Logging.WriteToStderr)
	assert.Empty(t, cfg.Fields)
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "cosine", cfg.Distance)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
vector_dim: 768
distance: dot
quantization:
  kind: scalar
  scalar_quantile: 0.99
fields:
  - name: category
    kind: keyword
  - name: price
    kind: float
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yaml"), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, 768, cfg.VectorDim)
	assert.Equal(t, "dot", cfg.Distance)
	assert.Equal(t, QuantizationScalar, cfg.Quantization.Kind)
	assert.Equal(t, 0.99, cfg.Quantization.ScalarQuantile)
	require.Len(t, cfg.Fields, 2)
	assert.Equal(t, "category", cfg.Fields[0].Name)
	assert.Equal(t, FieldKindKeyword, cfg.Fields[0].Kind)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
distance: l2
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yml"), []byte(configContent), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "l2", cfg.Distance)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yaml"), []byte("version: 1\ndistance: dot\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yml"), []byte("version: 1\ndistance: l1\n"), 0o644))

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "dot", cfg.Distance)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "version: 1\nvector_dim: [invalid yaml syntax\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yaml"), []byte(invalidContent), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidDistance_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yaml"), []byte("version: 1\ndistance: manhattan\n"), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "distance")
}

func TestLoad_DuplicateFieldName_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
version: 1
fields:
  - name: category
    kind: keyword
  - name: category
    kind: text
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yaml"), []byte(content), 0o644))

	cfg, err := Load(tmpDir)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoad_EnvVarOverridesDistance(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SEGMENTCORE_DISTANCE", "l1")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "l1", cfg.Distance)
}

func TestLoad_EnvVarOverridesQuantization(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SEGMENTCORE_QUANTIZATION", "binary")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, QuantizationBinary, cfg.Quantization.Kind)
}

func TestLoad_EnvVarOverridesLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SEGMENTCORE_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvVarOverridesYaml(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "segment.yaml"), []byte("version: 1\ndistance: dot\n"), 0o644))
	t.Setenv("SEGMENTCORE_DISTANCE", "l2")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "l2", cfg.Distance)
}

func TestLoad_EmptyEnvVar_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SEGMENTCORE_DISTANCE", "")

	cfg, err := Load(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, "cosine", cfg.Distance)
}

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "segmentcore", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "segmentcore", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	segDir := filepath.Join(configDir, "segmentcore")
	require.NoError(t, os.MkdirAll(segDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(segDir, "config.yaml"), []byte("version: 1"), 0o644))

	assert.True(t, UserConfigExists())
}

func TestConfig_WriteYAML_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "segment.yaml")

	cfg := NewConfig()
	cfg.VectorDim = 384
	cfg.Fields = []FieldSchema{{Name: "tenant_id", Kind: FieldKindKeyword, IsTenant: true}}

	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 384, loaded.VectorDim)
	require.Len(t, loaded.Fields, 1)
	assert.True(t, loaded.Fields[0].IsTenant)
}
