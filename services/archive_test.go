package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twinlink/logger"
	"twinlink/models"
	"twinlink/utils"
)

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func TestArchiveFinishedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t,
		profile("alice", "Alice", 0.8, []string{"ai"}, nil),
		profile("bob", "Bob", 0.8, []string{"ai"}, nil),
	)

	session, err := f.autopilot.Run(ctx, "alice", openSettings(1, 0))
	require.NoError(t, err)

	store, err := utils.NewDirStore(t.TempDir())
	require.NoError(t, err)
	archive := NewArchiveService(f.db, store, f.clock, logger.NewNop())

	n, err := archive.ArchiveFinished(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := TranscriptKey(session)
	assert.Equal(t, "autopilot/alice/2026-03-10-"+session.ID+".json", key)

	raw, err := os.ReadFile(store.Path(key))
	require.NoError(t, err)
	var transcript SessionTranscript
	require.NoError(t, json.Unmarshal(raw, &transcript))
	assert.Equal(t, session.ID, transcript.Session.ID)
	assert.Equal(t, models.SessionCompleted, transcript.Session.Status)
	assert.NotEmpty(t, transcript.Activities)
	for _, a := range transcript.Activities {
		require.NotNil(t, a.SessionID)
		assert.Equal(t, session.ID, *a.SessionID)
	}

	n, err = archive.ArchiveFinished(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "archived sessions are skipped")

	got, err := f.autopilot.GetSession(ctx, "alice", session.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ArchivedAt)
}

func TestArchiveLeavesSessionsOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, profile("alice", "Alice", 0.8, nil, nil))

	session, err := f.autopilot.Run(ctx, "alice", openSettings(1, 0))
	require.NoError(t, err)

	archive := NewArchiveService(f.db, failingStore{}, f.clock, logger.NewNop())
	n, err := archive.ArchiveFinished(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.autopilot.GetSession(ctx, "alice", session.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ArchivedAt)
}
