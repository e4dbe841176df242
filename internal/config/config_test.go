package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "a description of this image:", cfg.Caption.DefaultPrompt)
	require.Equal(t, "feedback.csv", cfg.Feedback.TablePath)
	require.Equal(t, "uploads", cfg.Feedback.UploadsDir)
	require.Equal(t, "./fine-tuned-model", cfg.Model.CheckpointDir)
	require.Equal(t, "Salesforce/blip-image-captioning-base", cfg.Model.Baseline)
	require.Equal(t, "baseline", cfg.FineTune.Base)
	require.InDelta(t, 5e-5, cfg.FineTune.LearningRate, 1e-12)
	require.Equal(t, 512, cfg.FineTune.MaxLength)
	require.Equal(t, 10*time.Minute, cfg.Model.Timeout)
}

func TestLoad_RejectsUnknownBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("finetune:\n  base: latest\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	sqlite := DatabaseConfig{Driver: "sqlite", Path: "./data/x.db"}
	require.Equal(t, "./data/x.db", sqlite.DSN())

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", DBName: "rc", SSLMode: "disable"}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=rc sslmode=disable", pg.DSN())
}
