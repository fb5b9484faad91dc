package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tripsync/internal/model"
)

func TestFakeLink_RecordsAndDecodes(t *testing.T) {
	link := NewFakeLink(true)
	ctx := context.Background()

	require.NoError(t, link.Publish(ctx, []byte(`{"entity":"plan","action":"update","planDtos":[{"title":"A"}]}`)))
	require.NoError(t, link.Publish(ctx, []byte(`not json`)))

	assert.Len(t, link.Published(), 2)
	envs := link.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, model.TargetPlan, envs[0].Entity)

	link.Reset()
	assert.Empty(t, link.Published())
}

func TestFakeLink_FailNext(t *testing.T) {
	link := NewFakeLink(true)
	ctx := context.Background()
	boom := errors.New("boom")

	link.FailNext(boom)
	assert.ErrorIs(t, link.Publish(ctx, []byte("a")), boom)
	assert.NoError(t, link.Publish(ctx, []byte("b")))
	assert.Equal(t, [][]byte{[]byte("b")}, link.Published())
}

func TestFakeLink_Connectivity(t *testing.T) {
	link := NewFakeLink(false)
	assert.False(t, link.Connected())
	link.SetConnected(true)
	assert.True(t, link.Connected())
}
