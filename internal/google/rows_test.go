package google

import (
	"testing"
	"time"

	"ddalti/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowRoundTrip(t *testing.T) {
	scheduled := time.Date(2025, 3, 1, 10, 10, 0, 0, kst)
	item := &models.QueueItem{
		ID:          "abcdef123456",
		Title:       "블랙핑크 월드투어",
		Code:        "25001111",
		OpenTime:    "2025.03.02 (일) 20:00",
		Genre:       "콘서트",
		Views:       4321,
		ImagePath:   "images/25001111.jpg",
		Status:      models.StatusRetrying,
		Priority:    85,
		ScheduledAt: &scheduled,
		LastError:   "timeout",
		RetryCount:  2,
		CreatedAt:   time.Date(2025, 3, 1, 9, 0, 0, 0, kst),
		Artist:      "블랙핑크 (BLACKPINK)",
		Hashtags:    "#블랙핑크 #댈티",
	}

	got, err := rowToItem(ItemRowValues(item, kst), kst)
	require.NoError(t, err)
	assert.Equal(t, item, got)
}

func TestRowScheduledMapsToPendingLabel(t *testing.T) {
	item := &models.QueueItem{ID: "abcdef123456", Status: models.StatusScheduled}
	row := ItemRowValues(item, kst)
	assert.Equal(t, models.LabelPending, row[colStatus])

	got, err := rowToItem(row, kst)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRowToItemErrors(t *testing.T) {
	_, err := rowToItem([]interface{}{""}, kst)
	assert.Error(t, err)

	_, err = rowToItem([]interface{}{"abcdef123456", "", "", "", "", "", "", "보류"}, kst)
	assert.Error(t, err)
}

func TestCellHelpers(t *testing.T) {
	row := []interface{}{float64(12), "  3,400 ", 7.5, nil, "x"}
	assert.Equal(t, "12", cellString(row, 0))
	assert.Equal(t, 3400, cellInt(row, 1))
	assert.Equal(t, "7.5", cellString(row, 2))
	assert.Equal(t, 7, cellInt(row, 2))
	assert.Equal(t, "", cellString(row, 3))
	assert.Equal(t, 0, cellInt(row, 4))
	assert.Equal(t, 0, cellInt(row, 10))
}

func TestRowFromRange(t *testing.T) {
	assert.Equal(t, 10, rowFromRange("PostingQueue!A10:Q10"))
	assert.Equal(t, 2, rowFromRange("'Hot'!A2:L3"))
	assert.Equal(t, 0, rowFromRange("PostingQueue!A:Q"))
}
