package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger_ProductionIsInfoLevel(t *testing.T) {
	logger := NewLogger("production")

	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogger_DevelopmentIsDebugLevel(t *testing.T) {
	logger := NewLogger("development")

	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
