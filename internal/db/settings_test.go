package db

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectQuery("SELECT value FROM app_settings").
		WithArgs("AUTO_SELECT_ENABLED").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("true"))

	value, found, err := store.GetSetting(context.Background(), "AUTO_SELECT_ENABLED")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", value)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettingMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectQuery("SELECT value FROM app_settings").
		WithArgs("NO_SUCH_KEY").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	_, found, err := store.GetSetting(context.Background(), "NO_SUCH_KEY")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetSettingsTransactional(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO app_settings").
		WithArgs("AUTO_SELECT_ENABLED", "false").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = store.SetSettings(context.Background(), map[string]string{
		"AUTO_SELECT_ENABLED": "false",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
