package portal

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invitekit/contactsync/internal/checkpoint"
	"github.com/invitekit/contactsync/internal/connectivity"
	"github.com/invitekit/contactsync/internal/contact"
	"github.com/invitekit/contactsync/internal/localstore"
	"github.com/invitekit/contactsync/internal/lookup"
	"github.com/invitekit/contactsync/internal/notice"
	"github.com/invitekit/contactsync/internal/remote"
	"github.com/invitekit/contactsync/internal/syncer"
)

type fixture struct {
	portal  *Portal
	store   *localstore.Store
	remote  *remote.MemoryService
	source  *connectivity.ManualSource
	cp      *checkpoint.MemoryStore
	notices *notice.Recorder
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	store, err := localstore.OpenSync(ctx, filepath.Join(t.TempDir(), "contacts.db"), localstore.Options{Logger: quiet})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:   store,
		remote:  remote.NewMemoryService(),
		source:  connectivity.NewManualSource(online),
		cp:      checkpoint.NewMemoryStore(),
		notices: &notice.Recorder{},
	}
	f.portal, err = New(Config{
		Store:      store,
		Remote:     f.remote,
		Checkpoint: f.cp,
		Source:     f.source,
		Notifier:   f.notices,
		Logger:     quiet,
	})
	require.NoError(t, err)
	require.NoError(t, f.portal.Start(ctx))
	t.Cleanup(func() { f.portal.Close() })
	return f
}

func ada() contact.Contact {
	return contact.Contact{
		FirstName:     "Ada",
		LastName:      "Lovelace",
		StreetAddress: "1 Analytical Engine Way",
		City:          "Toronto",
		State:         "ON",
		PostalCode:    "M5V 2T6",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// Offline submit, then reconnect: the monitor pushes the entry once.
func TestPortal_OfflineSubmitSyncsOnReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	result, err := f.portal.Submit(ctx, ada())
	require.NoError(t, err)
	assert.Nil(t, result.Sync, "no sync attempted while offline")

	entries, err := f.store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Synced)
	assert.Equal(t, contact.DefaultCountry, entries[0].Country)
	assert.Equal(t, []string{contact.DefaultTag}, entries[0].Tags)

	f.source.Set(true)
	waitFor(t, func() bool {
		e, err := f.store.Get(ctx, result.ID)
		return err == nil && e.Synced
	})

	assert.Equal(t, 1, f.remote.UpsertCount())
	_, ok, err := f.cp.Load()
	require.NoError(t, err)
	assert.True(t, ok, "checkpoint should advance")
	waitFor(t, func() bool { return f.notices.Count(notice.KindSyncComplete) == 1 })
	assert.Equal(t, 1, f.notices.Count(notice.KindOnline))
	assert.Equal(t, 1, f.notices.Count(notice.KindSaved))

	// Search after the sync finds the stored entry
	entry, found, err := f.portal.Search(ctx, "Lovel")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, result.ID, entry.ID)
	assert.Equal(t, 1, f.notices.Count(notice.KindFound))
}

func TestPortal_SubmitOnlineSyncsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	result, err := f.portal.Submit(ctx, ada())
	require.NoError(t, err)
	require.NotNil(t, result.Sync)
	assert.NoError(t, result.SyncErr)
	assert.Equal(t, syncer.StatusSynced, result.Sync.Status)
	assert.Equal(t, []string{result.ID}, result.Sync.Pushed)

	pushed, ok := f.remote.Get(result.ID)
	require.True(t, ok)
	assert.Equal(t, "Ada", pushed.FirstName)
}

func TestPortal_SubmitEditReusesID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	first, err := f.portal.Submit(ctx, ada())
	require.NoError(t, err)

	entry, found, err := f.portal.Search(ctx, "ada lovelace")
	require.NoError(t, err)
	require.True(t, found)

	edited := entry.Contact
	edited.City = "Ottawa"
	second, err := f.portal.Submit(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	total, _, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestPortal_SubmitValidationFailure(t *testing.T) {
	f := newFixture(t, true)

	c := ada()
	c.PostalCode = "12345"
	_, err := f.portal.Submit(context.Background(), c)
	require.Error(t, err)
	assert.True(t, contact.IsValidationError(err))

	total, _, err := f.store.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, f.notices.Count(notice.KindSaved))
}

func TestPortal_SubmitSyncFailureKeepsSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	c := ada()
	c.ID = "fixed-id"
	f.remote.FailUpserts("fixed-id", errors.New("remote rejected"))

	result, err := f.portal.Submit(ctx, c)
	require.NoError(t, err)
	assert.ErrorIs(t, result.SyncErr, syncer.ErrPushFailed)

	entry, err := f.store.Get(ctx, "fixed-id")
	require.NoError(t, err)
	assert.False(t, entry.Synced)
	assert.Equal(t, 1, f.notices.Count(notice.KindSyncFailed))
}

func TestPortal_SearchNotices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.portal.Submit(ctx, ada())
	require.NoError(t, err)

	_, _, err = f.portal.Search(ctx, "Lo")
	assert.ErrorIs(t, err, lookup.ErrQueryTooShort)
	assert.Equal(t, 1, f.notices.Count(notice.KindQueryTooShort))

	_, found, err := f.portal.Search(ctx, "Babbage")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, f.notices.Count(notice.KindNotFound))
}

func TestPortal_ManualSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	_, err := f.portal.Submit(ctx, ada())
	require.NoError(t, err)

	_, err = f.portal.ManualSync(ctx)
	assert.ErrorIs(t, err, connectivity.ErrOffline)
	assert.Equal(t, 1, f.notices.Count(notice.KindOfflineRequested))
	assert.Zero(t, f.remote.UpsertCount())

	// Drive the transition ourselves and wait for the automatic pass
	f.source.Set(true)
	waitFor(t, func() bool {
		return f.notices.Count(notice.KindSyncComplete) == 1 && !f.portal.coordinator.InProgress()
	})

	result, err := f.portal.ManualSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusNothingToSync, result.Status)
	assert.Equal(t, 1, f.notices.Count(notice.KindNothingToSync))
}

func TestPortal_Status(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	st, err := f.portal.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.False(t, st.HasLastSync)
	assert.Zero(t, st.Total)

	_, err = f.portal.Submit(ctx, ada())
	require.NoError(t, err)

	st, err = f.portal.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Unsynced)

	f.source.Set(true)
	waitFor(t, func() bool {
		st, err := f.portal.Status(ctx)
		return err == nil && st.Unsynced == 0 && st.HasLastSync
	})
}

func TestPortal_Import(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	input := strings.Join([]string{
		`{"first_name":"Ada","last_name":"Lovelace","street_address":"1 Way","city":"Toronto","state":"ON","postal_code":"M5V 2T6"}`,
		`{"first_name":"Grace","last_name":"Hopper","street_address":"2 Way","city":"Ottawa","state":"ON","postal_code":"bad"}`,
		`{"first_name":7}`,
	}, "\n")

	result, err := f.portal.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Records)
	assert.Len(t, result.IDs, 1)
	assert.Len(t, result.Skipped, 2)

	_, unsynced, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, unsynced)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
