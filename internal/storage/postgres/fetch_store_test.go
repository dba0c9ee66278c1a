package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Ashwin-z/savereelify.com/internal/media"
)

func TestSaveFetchInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := media.FetchRecord{
		ID:          "0190c1b2-0000-7000-8000-000000000001",
		URL:         "https://www.instagram.com/reel/C9abcDEF_12/",
		Type:        media.PostTypeReel,
		Success:     true,
		DownloadURL: "https://scontent.cdninstagram.com/v/clip.mp4",
		MediaType:   media.KindVideo,
		Duration:    1500 * time.Millisecond,
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO fetch_records").
		WithArgs(
			rec.ID,
			rec.URL,
			"reel",
			true,
			"",
			rec.DownloadURL,
			"video",
			false,
			int64(1500),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveFetch(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFetchWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchStoreWithPool(mock, "audit")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit").WillReturnError(errors.New("connection reset"))
	err = store.SaveFetch(context.Background(), media.FetchRecord{ID: "x", URL: "u"})
	require.ErrorContains(t, err, "insert fetch record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFetchRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.SaveFetch(context.Background(), media.FetchRecord{URL: "u"}))

	var nilStore *FetchStore
	require.Error(t, nilStore.SaveFetch(context.Background(), media.FetchRecord{ID: "x"}))
	nilStore.Close()
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchStoreWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS fetch_records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorsValidate(t *testing.T) {
	t.Parallel()

	_, err := NewFetchStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewFetchStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewFetchStore(context.Background(), FetchStoreConfig{})
	require.Error(t, err)
	_, err = NewFetchStore(context.Background(), FetchStoreConfig{DSN: "postgres://x", Table: "1bad"})
	require.Error(t, err)
}
