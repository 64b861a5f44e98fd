package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{StatusInitiated, StatusAuthorized, true},
		{StatusInitiated, StatusFailed, true},
		{StatusInitiated, StatusCaptured, false},
		{StatusInitiated, StatusRefunded, false},
		{StatusAuthorized, StatusCaptured, true},
		{StatusAuthorized, StatusFailed, true},
		{StatusAuthorized, StatusRefunded, true},
		{StatusAuthorized, StatusInitiated, false},
		{StatusCaptured, StatusRefunded, true},
		{StatusCaptured, StatusAuthorized, false},
		{StatusFailed, StatusAuthorized, false},
		{StatusFailed, StatusCaptured, false},
		{StatusRefunded, StatusCaptured, false},
		{"BOGUS", StatusCaptured, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, ValidateTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusRefunded))
	assert.False(t, IsTerminal(StatusInitiated))
	assert.False(t, IsTerminal(StatusAuthorized))
	assert.False(t, IsTerminal(StatusCaptured))
	assert.False(t, IsTerminal("BOGUS"))
}

func TestAllowedTransitions(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{StatusCaptured, StatusFailed, StatusRefunded},
		AllowedTransitions(StatusAuthorized))
	assert.Empty(t, AllowedTransitions(StatusFailed))
}
