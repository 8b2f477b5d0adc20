package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"ddalti/internal/config"
	"ddalti/internal/domain"
	"ddalti/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsStore keeps the posting queue in a Google spreadsheet.
type SheetsStore struct {
	service       *sheets.Service
	spreadsheetID string
	queueSheet    string
	hotSheet      string
	loc           *time.Location
	logger        *zerolog.Logger

	// writeMu serializes the exists-then-append sequence.
	writeMu  sync.Mutex
	rowCache map[string]int
	cacheMu  sync.RWMutex
}

var (
	_ domain.RecordStore = (*SheetsStore)(nil)
	_ domain.HotRecorder = (*SheetsStore)(nil)
)

func NewSheetsStore(ctx context.Context, cfg config.GoogleConfig, loc *time.Location, logger *zerolog.Logger) (*SheetsStore, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsStore(srv, cfg, loc, logger), nil
}

func newSheetsStore(srv *sheets.Service, cfg config.GoogleConfig, loc *time.Location, logger *zerolog.Logger) *SheetsStore {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	queueSheet := cfg.QueueSheet
	if queueSheet == "" {
		queueSheet = "PostingQueue"
	}
	hotSheet := cfg.HotSheet
	if hotSheet == "" {
		hotSheet = "Hot"
	}
	return &SheetsStore{
		service:       srv,
		spreadsheetID: cfg.SpreadsheetID,
		queueSheet:    queueSheet,
		hotSheet:      hotSheet,
		loc:           loc,
		logger:        logger,
		rowCache:      make(map[string]int),
	}
}

// TestConnection reads the queue header row.
func (s *SheetsStore) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.queueSheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// GetServiceAccountEmail returns the client_email of a credentials file, for sharing the sheet.
func GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// EnsureHeaders writes the header rows of both sheets when they are empty.
func (s *SheetsStore) EnsureHeaders(ctx context.Context) error {
	if err := s.ensureHeader(ctx, s.queueSheet, queueLastCol, QueueHeaders); err != nil {
		return err
	}
	return s.ensureHeader(ctx, s.hotSheet, hotLastCol, HotHeaders)
}

func (s *SheetsStore) ensureHeader(ctx context.Context, sheet, lastCol string, headers []interface{}) error {
	headerRange := fmt.Sprintf("%s!A1:%s1", sheet, lastCol)
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read %s header: %w", sheet, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, headerRange, &sheets.ValueRange{
		Values: [][]interface{}{headers},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	return nil
}

// WarmUpCache rebuilds the ID to row index cache from column A.
func (s *SheetsStore) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.queueSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if i == 0 {
			continue // header
		}
		if id := cellString(row, colID); id != "" {
			cache[id] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *SheetsStore) Exists(ctx context.Context, id string) (bool, error) {
	if _, ok := s.getCachedRow(id); ok {
		return true, nil
	}
	if err := s.WarmUpCache(ctx); err != nil {
		return false, fmt.Errorf("refresh row cache: %w", err)
	}
	_, ok := s.getCachedRow(id)
	return ok, nil
}

func (s *SheetsStore) Append(ctx context.Context, item *models.QueueItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("item id is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	exists, err := s.Exists(ctx, item.ID)
	if err != nil {
		return err
	}
	if exists {
		return domain.ErrAlreadyExists
	}

	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.queueSheet+"!A:"+queueLastCol, &sheets.ValueRange{
		Values: [][]interface{}{ItemRowValues(item, s.loc)},
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append queue row: %w", err)
	}

	if resp.Updates != nil {
		if row := rowFromRange(resp.Updates.UpdatedRange); row > 0 {
			s.setCachedRow(item.ID, row)
		}
	}
	return nil
}

func (s *SheetsStore) Query(ctx context.Context, pred func(*models.QueueItem) bool) ([]*models.QueueItem, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.queueSheet+"!A2:"+queueLastCol).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read queue rows: %w", err)
	}

	cache := make(map[string]int, len(resp.Values))
	var items []*models.QueueItem
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		rowIdx := i + 2
		item, err := rowToItem(row, s.loc)
		if err != nil {
			s.logger.Warn().Err(err).Int("row", rowIdx).Msg("skip unreadable queue row")
			if id := cellString(row, colID); id != "" {
				cache[id] = rowIdx
			}
			continue
		}
		cache[item.ID] = rowIdx
		if pred == nil || pred(item) {
			items = append(items, item)
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()

	return items, nil
}

func (s *SheetsStore) Update(ctx context.Context, item *models.QueueItem) error {
	rowIdx, err := s.findRow(ctx, item.ID)
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:%s%d", s.queueSheet, rowIdx, queueLastCol, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{ItemRowValues(item, s.loc)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update queue row %d: %w", rowIdx, err)
	}
	return nil
}

func (s *SheetsStore) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	items, err := s.Query(ctx, nil)
	if err != nil {
		return stats, err
	}
	for _, item := range items {
		stats.Add(item.Status)
	}
	return stats, nil
}

// AppendHot logs tickets to the Hot sheet in one append call.
func (s *SheetsStore) AppendHot(ctx context.Context, tickets []models.Ticket, crawledAt time.Time) error {
	if len(tickets) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(tickets))
	for _, t := range tickets {
		values = append(values, hotRowValues(t, crawledAt.In(s.loc)))
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.hotSheet+"!A:"+hotLastCol, &sheets.ValueRange{
		Values: values,
	}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append hot rows: %w", err)
	}
	return nil
}

func (s *SheetsStore) findRow(ctx context.Context, id string) (int, error) {
	if id == "" {
		return 0, fmt.Errorf("item id is required")
	}
	if row, ok := s.getCachedRow(id); ok {
		return row, nil
	}
	if err := s.WarmUpCache(ctx); err != nil {
		return 0, err
	}
	if row, ok := s.getCachedRow(id); ok {
		return row, nil
	}
	return 0, fmt.Errorf("ticket %s: %w", id, domain.ErrNotFound)
}

func (s *SheetsStore) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsStore) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

// ClearCache drops the row index cache.
func (s *SheetsStore) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
}
