package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendtech/mdb-bridge/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SerialLog{}))

	return db
}

func TestSerialLogRepository_Record(t *testing.T) {
	repo := NewSerialLogRepository(testDB(t), zap.NewNop())

	repo.Record("rx", "c,STATUS,VEND,5.00")
	repo.Record("tx", "C,VEND,5.00")

	entries, err := repo.Latest(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Latest按时间倒序
	assert.Equal(t, "tx", entries[0].Direction)
	assert.Equal(t, "C,VEND,5.00", entries[0].Line)
	assert.Equal(t, "rx", entries[1].Direction)
}

func TestSerialLogRepository_Latest(t *testing.T) {
	repo := NewSerialLogRepository(testDB(t), zap.NewNop())

	for i := 0; i < 5; i++ {
		repo.Record("rx", "c,STATUS,IDLE")
	}

	entries, err := repo.Latest(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSerialLogRepository_Cleanup(t *testing.T) {
	db := testDB(t)
	repo := NewSerialLogRepository(db, zap.NewNop())

	old := &models.SerialLog{Direction: "rx", Line: "c,STATUS,IDLE"}
	require.NoError(t, repo.Create(old))
	require.NoError(t, db.Model(old).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	repo.Record("rx", "c,STATUS,VEND,5.00")

	deleted, err := repo.Cleanup(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := repo.Latest(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
