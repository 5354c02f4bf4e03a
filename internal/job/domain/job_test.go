package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(JobStatusCompleted))
	assert.True(t, IsTerminal(JobStatusFailed))
	assert.True(t, IsTerminal(JobStatusCancelled))

	assert.False(t, IsTerminal(JobStatusQueued))
	assert.False(t, IsTerminal(JobStatusProcessing))
	assert.False(t, IsTerminal("DONE"))
}

func TestIsValidStatus(t *testing.T) {
	for _, status := range []string{
		JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled,
	} {
		assert.True(t, IsValidStatus(status), status)
	}

	assert.False(t, IsValidStatus(""))
	assert.False(t, IsValidStatus("queued"))
	assert.False(t, IsValidStatus("SHIPPED"))
}

func TestJobPatchIsEmpty(t *testing.T) {
	assert.True(t, JobPatch{}.IsEmpty())

	title := "t"
	assert.False(t, JobPatch{Title: &title}.IsEmpty())
	assert.False(t, JobPatch{Payload: map[string]any{}}.IsEmpty())
}
