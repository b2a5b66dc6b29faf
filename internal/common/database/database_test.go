package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microloan-client/internal/common/config"
)

func TestRedisClient_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedis(context.Background(), config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "microloan:session:default", "tok", time.Hour))

	v, err := c.Get(ctx, "microloan:session:default")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)

	ttl, err := c.TTL(ctx, "microloan:session:default")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	require.NoError(t, c.Del(ctx, "microloan:session:default"))
	v, err = c.Get(ctx, "microloan:session:default")
	require.NoError(t, err)
	assert.Empty(t, v)

	assert.NotNil(t, c.Cmdable())
}

func TestNewRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), config.RedisConfig{Address: addr})
	assert.Error(t, err)
}

func TestPostgresClient_Exec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	c := NewPostgresFromDB(db)
	mock.ExpectExec("DELETE FROM payment_journal").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectClose()

	res, err := c.Exec(context.Background(), "DELETE FROM payment_journal")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.EqualValues(t, 3, n)

	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
