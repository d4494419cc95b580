package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "window", cfg.Chunker.Type)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 150, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, "flat", cfg.VectorStore.Type)
	assert.Equal(t, 6, cfg.Retrieval.TopK)
	assert.Equal(t, []string{".txt"}, cfg.Index.Extensions)
	assert.Equal(t, 512, cfg.Generation.MaxTokens)
	assert.InDelta(t, 0.2, cfg.Generation.Temperature, 1e-6)
	assert.Equal(t, "HF_TOKEN", cfg.Generation.APIKeyEnv)
	assert.Equal(t, "memory", cfg.Sessions.Type)
	assert.Contains(t, cfg.Router.Keywords.Farewell, "bye")
	assert.Equal(t, "ragchat.turns", cfg.Events.Subject)
	require.NoError(t, cfg.Validate())
}

func TestLoad_PartialFileFilled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedder:
  type: openai
vector_store:
  type: qdrant
router:
  keywords:
    farewell: [ciao]
    domain: []
sessions:
  type: bolt
retrieval:
  top_k: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Embedder.OpenAI)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	require.NotNil(t, cfg.VectorStore.Qdrant)
	assert.Equal(t, "localhost:6334", cfg.VectorStore.Qdrant.Addr)
	assert.Equal(t, "sessions.db", cfg.Sessions.Path)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, []string{"ciao"}, cfg.Router.Keywords.Farewell)
	assert.NotEmpty(t, cfg.Router.Keywords.Greeting)
	assert.Empty(t, cfg.Router.Keywords.Domain)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "embedder: [",
		"unknown store":  "vector_store:\n  type: faiss\n",
		"unknown embed":  "embedder:\n  type: bert\n",
		"overlap > size": "chunker:\n  chunk_size: 100\n  chunk_overlap: 200\n",
		"unknown sess":   "sessions:\n  type: redis\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Server.Addr = ":9999"
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "ragchat", "config.yaml"), path)
	assert.FileExists(t, path)
	assert.Equal(t, "flat", cfg.VectorStore.Type)
}
