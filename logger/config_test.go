package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.Empty(t, DefaultConfig().Validate())
	assert.Len(t, Config{Level: "chatty"}.Validate(), 1)
}

func TestSetLogrus(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	SetLogrus(Config{Level: "debug", Color: false})
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	formatter, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
	assert.True(t, formatter.DisableColors)
	assert.True(t, formatter.FullTimestamp)

	assert.Panics(t, func() { SetLogrus(Config{Level: "chatty"}) })
}
