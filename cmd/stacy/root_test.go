package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetExitCodeOnlyFirstCallWins(t *testing.T) {
	c := &cliContext{}
	c.setExitCode(2)
	c.setExitCode(10)

	assert.True(t, c.exitCodeSet)
	assert.Equal(t, 2, c.exitCode)
}
