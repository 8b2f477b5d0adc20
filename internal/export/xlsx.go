package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ddalti/internal/google"
	"ddalti/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	QueueSheet = "PostingQueue"
	statsSheet = "통계"
)

var statusFill = map[string]string{
	models.LabelPending:  "#FFFFFF",
	models.LabelPosted:   "#C6EFCE",
	models.LabelFailed:   "#FFC7CE",
	models.LabelRetrying: "#FFEB9C",
}

var colWidths = map[string]float64{
	"A": 15, "B": 45, "C": 12, "D": 20, "E": 12, "F": 10, "G": 30, "H": 10, "I": 10,
	"J": 20, "K": 20, "L": 40, "M": 10, "N": 20, "O": 45, "P": 25, "Q": 50,
}

// Build lays out the queue and a stats sheet. Callers close the returned file.
func Build(items []*models.QueueItem, loc *time.Location) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(QueueSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range google.QueueHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(QueueSheet, cell, header)
		_ = f.SetCellStyle(QueueSheet, cell, cell, headerStyle)
	}

	styles := make(map[string]int, len(statusFill))
	for label, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
		})
		if err == nil {
			styles[label] = id
		}
	}

	var stats models.QueueStats
	lastCol, _ := excelize.ColumnNumberToName(len(google.QueueHeaders))
	for i, item := range items {
		row := i + 2
		start, _ := excelize.CoordinatesToCellName(1, row)
		values := google.ItemRowValues(item, loc)
		if err := f.SetSheetRow(QueueSheet, start, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		if style, ok := styles[item.Status.Label()]; ok {
			_ = f.SetCellStyle(QueueSheet, start, fmt.Sprintf("%s%d", lastCol, row), style)
		}
		stats.Add(item.Status)
	}

	for col, width := range colWidths {
		_ = f.SetColWidth(QueueSheet, col, col, width)
	}
	_ = f.SetPanes(QueueSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.NewSheet(statsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	rows := [][]interface{}{
		{"전체", stats.Total},
		{models.LabelPending, stats.Pending},
		{models.LabelPosted, stats.Completed},
		{models.LabelFailed, stats.Failed},
		{models.LabelRetrying, stats.Retry},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(statsSheet, cell, &r)
	}
	_ = f.SetColWidth(statsSheet, "A", "A", 12)

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, items []*models.QueueItem, loc *time.Location) error {
	f, err := Build(items, loc)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// Save writes queue_export_<timestamp>.xlsx under dir and returns its path.
func Save(dir string, items []*models.QueueItem, now time.Time, loc *time.Location) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Build(items, loc)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if loc != nil {
		now = now.In(loc)
	}
	filePath := filepath.Join(dir, fmt.Sprintf("queue_export_%s.xlsx", now.Format("2006-01-02_15-04-05")))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}
