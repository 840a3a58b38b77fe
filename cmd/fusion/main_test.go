package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/go-fusion/core"
)

func TestGetCmd_NotFound(t *testing.T) {
	storeDSN = ":memory:"
	dimension = 2
	metricName = "cosine"

	getCmd.SetContext(context.Background())
	err := getCmd.RunE(getCmd, []string{"missing"})

	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestParseVector(t *testing.T) {
	v, err := parseVector("1, 0.5, -2")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5, -2}, v)

	_, err = parseVector("")
	assert.Error(t, err)

	_, err = parseVector("1,nope")
	assert.Error(t, err)
}
