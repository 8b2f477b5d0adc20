package google

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ddalti/internal/models"
)

// QueueHeaders are the PostingQueue columns A..Q.
var QueueHeaders = []interface{}{
	"티켓ID", "제목", "예매코드", "오픈시간", "장르", "조회수", "이미지경로", "게시상태", "우선순위",
	"예약시간", "게시시간", "에러메시지", "재시도횟수", "생성시간", "트윗URL", "아티스트", "AI해시태그",
}

// HotHeaders are the Hot sheet columns A..L.
var HotHeaders = []interface{}{
	"티켓ID", "제목", "예매코드", "오픈시간", "오픈유형", "장르", "지역", "공연장", "조회수", "복수오픈", "포스터", "수집시간",
}

const (
	queueLastCol = "Q"
	hotLastCol   = "L"
)

const (
	colID = iota
	colTitle
	colCode
	colOpenTime
	colGenre
	colViews
	colImagePath
	colStatus
	colPriority
	colScheduledAt
	colPostedAt
	colLastError
	colRetryCount
	colCreatedAt
	colResultURL
	colArtist
	colHashtags
)

// ItemRowValues renders item as a PostingQueue row in the order of QueueHeaders.
func ItemRowValues(item *models.QueueItem, loc *time.Location) []interface{} {
	return []interface{}{
		item.ID,
		item.Title,
		item.Code,
		item.OpenTime,
		item.Genre,
		item.Views,
		item.ImagePath,
		item.Status.Label(),
		item.Priority,
		models.FormatTimeIn(item.ScheduledAt, loc),
		models.FormatTimeIn(item.PostedAt, loc),
		item.LastError,
		item.RetryCount,
		models.FormatTimeIn(&item.CreatedAt, loc),
		item.ResultURL,
		item.Artist,
		item.Hashtags,
	}
}

// rowToItem parses a PostingQueue row. Bad numbers and dates fall back to zero values;
// a missing ID or unknown status label is an error.
func rowToItem(row []interface{}, loc *time.Location) (*models.QueueItem, error) {
	id := cellString(row, colID)
	if id == "" {
		return nil, fmt.Errorf("row has no ticket id")
	}

	status, err := models.ParseStatus(cellString(row, colStatus))
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", id, err)
	}

	item := &models.QueueItem{
		ID:          id,
		Title:       cellString(row, colTitle),
		Code:        cellString(row, colCode),
		OpenTime:    cellString(row, colOpenTime),
		Genre:       cellString(row, colGenre),
		Views:       cellInt(row, colViews),
		ImagePath:   cellString(row, colImagePath),
		Status:      status,
		Priority:    cellInt(row, colPriority),
		ScheduledAt: models.ParseTime(cellString(row, colScheduledAt), loc),
		PostedAt:    models.ParseTime(cellString(row, colPostedAt), loc),
		LastError:   cellString(row, colLastError),
		RetryCount:  cellInt(row, colRetryCount),
		ResultURL:   cellString(row, colResultURL),
		Artist:      cellString(row, colArtist),
		Hashtags:    cellString(row, colHashtags),
	}
	if created := models.ParseTime(cellString(row, colCreatedAt), loc); created != nil {
		item.CreatedAt = *created
	}
	return item, nil
}

func hotRowValues(t models.Ticket, crawledAt time.Time) []interface{} {
	return []interface{}{
		t.ID(),
		t.Title,
		t.GoodsCode,
		t.OpenDateStr,
		t.OpenTypeStr,
		t.GoodsGenreStr,
		t.GoodsRegionStr,
		t.VenueName,
		t.ViewCount,
		t.HasMultipleOpenDates,
		t.PosterImageURL,
		crawledAt.Format(models.TimeLayout),
	}
}

func cellString(row []interface{}, idx int) string {
	if idx >= len(row) || row[idx] == nil {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func cellInt(row []interface{}, idx int) int {
	raw := strings.ReplaceAll(cellString(row, idx), ",", "")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}

// rowFromRange extracts the first row number of an A1 range like "Sheet!A10:Q10".
func rowFromRange(a1 string) int {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		a1 = a1[i+1:]
	}
	if i := strings.Index(a1, ":"); i >= 0 {
		a1 = a1[:i]
	}
	digits := strings.TrimLeftFunc(a1, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
