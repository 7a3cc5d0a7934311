package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

func TestUpsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "proxies")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := proxy.Record{
		IP:        "1.2.3.4",
		Port:      8080,
		Type:      proxy.TypeHTTP,
		LatencyMs: 320,
		Category:  proxy.CategoryFast,
		Country:   "DE",
		Anonymity: proxy.AnonymityElite,
		CheckedAt: now,
	}

	mock.ExpectExec("INSERT INTO proxies").
		WithArgs("1.2.3.4", 8080, "HTTP", int64(320), "elite", "DE", now, "fast").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO proxies").WillReturnError(boom)

	err = store.Upsert(context.Background(), proxy.Record{IP: "1.2.3.4", Port: 80})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "harvested")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"ip", "port", "type", "response_time", "anonymity_level", "country", "last_checked", "category"}).
		AddRow("1.2.3.4", 8080, "HTTP", int64(320), "elite", "DE", now, "fast").
		AddRow("5.6.7.8", 1080, "SOCKS5", int64(2400), "anonymous", "unknown", now, "slow")
	mock.ExpectQuery("SELECT ip, port, type").WillReturnRows(rows)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	require.Equal(t, []proxy.Record{
		{IP: "1.2.3.4", Port: 8080, Type: proxy.TypeHTTP, LatencyMs: 320, Category: proxy.CategoryFast, Country: "DE", Anonymity: proxy.AnonymityElite, CheckedAt: now},
		{IP: "5.6.7.8", Port: 1080, Type: proxy.TypeSOCKS5, LatencyMs: 2400, Category: proxy.CategorySlow, Country: "unknown", Anonymity: proxy.AnonymityAnonymous, CheckedAt: now},
	}, all)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStoreWithPool(mock, "proxies")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS proxies").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil, "proxies")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewStoreWithPool(mock, "proxies; DROP TABLE x")
	require.Error(t, err)
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), StoreConfig{})
	require.Error(t, err)
}
