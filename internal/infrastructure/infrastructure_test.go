package infrastructure_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/steward/internal/config"
	"github.com/JaimeStill/steward/internal/infrastructure"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	infrastructure.NewLogger(&buf, "json", slog.LevelWarn).Info("hidden")
	infrastructure.NewLogger(&buf, "json", slog.LevelWarn).Warn("shown", "system", "sla")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"system":"sla"`)

	buf.Reset()
	infrastructure.NewLogger(&buf, "text", slog.LevelInfo).Info("started")
	assert.Contains(t, buf.String(), "msg=started")
}

func TestNewMemoryEngine(t *testing.T) {
	cfg := &config.Config{Engine: config.EngineConfig{Store: config.StoreMemory}}
	require.NoError(t, cfg.Finalize())

	infra, err := infrastructure.New(cfg)
	require.NoError(t, err)
	assert.Nil(t, infra.Database)
	assert.Nil(t, infra.Storage)
	assert.False(t, infra.Tracing)

	require.NoError(t, infra.Start())
	infra.Lifecycle.WaitForStartup()
	assert.True(t, infra.Lifecycle.Ready())
	assert.NoError(t, infra.Lifecycle.Shutdown(time.Second))
}

func TestNewWithStorage(t *testing.T) {
	cfg := &config.Config{
		Engine: config.EngineConfig{Store: config.StoreMemory},
	}
	cfg.Storage.ConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
		"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
		"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"
	require.NoError(t, cfg.Finalize())

	infra, err := infrastructure.New(cfg)
	require.NoError(t, err)
	require.NotNil(t, infra.Storage)
	assert.Equal(t, "instances/acme/1.json", infra.Storage.Key("acme", "1.json"))
}
