package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.BorrowDefaultDays)
	require.Equal(t, "อะไหล่", cfg.SpareLocation)
	require.Equal(t, 2*time.Second, cfg.BadgeDebounce)
	require.Equal(t, "0 7 * * *", cfg.OverdueCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadCron(t *testing.T) {
	t.Setenv("WORKER_OVERDUE_CRON", "every morning")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "WORKER_OVERDUE_CRON")
}

func TestLoadConfigRejectsNonPositiveLoanDays(t *testing.T) {
	t.Setenv("WMS_BORROW_DEFAULT_DAYS", "0")
	_, err := LoadConfig()
	require.Error(t, err)
}
