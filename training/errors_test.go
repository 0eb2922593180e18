package training

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := resumeError("resume", errors.Wrap(os.ErrNotExist, "failed to open checkpoint file"))

	assert.ErrorIs(t, err, ErrResumeLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NotErrorIs(t, err, ErrIO)
	assert.Equal(t, "resume: resume load error: failed to open checkpoint file: file does not exist", err.Error())

	var trainingErr *Error
	assert.True(t, errors.As(err, &trainingErr))
	assert.Equal(t, "resume", trainingErr.Op)
}

func TestErrorWithoutCause(t *testing.T) {
	err := configError("initialize", nil)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "initialize: configuration error", err.Error())
}
