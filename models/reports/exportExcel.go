package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// ExcelExporter is one spreadsheet row. Values come back in heading order.
type ExcelExporter interface {
	GetCellValues() []interface{}
}

type SyncRunExportRow struct {
	ID            uint       `json:"Id"`
	TriggeredBy   string     `json:"TriggeredBy"`
	Status        string     `json:"Status"`
	StartedAt     time.Time  `json:"StartedAt"`
	FinishedAt    *time.Time `json:"FinishedAt,omitempty"`
	DurationMs    int64      `json:"DurationMs"`
	PortalCount   int        `json:"PortalCount"`
	CalendarCount int        `json:"CalendarCount"`
	Created       int        `json:"Created"`
	Updated       int        `json:"Updated"`
	Deleted       int        `json:"Deleted"`
	Conflicts     int        `json:"Conflicts"`
	Failures      int        `json:"Failures"`
	Warnings      int        `json:"Warnings"`
	AbortReason   string     `json:"AbortReason"`
}

func (r SyncRunExportRow) GetCellValues() []interface{} {
	return []interface{}{
		r.ID,
		r.TriggeredBy,
		r.Status,
		exportTime(r.StartedAt),
		exportTimePtr(r.FinishedAt),
		r.DurationMs,
		r.PortalCount,
		r.CalendarCount,
		r.Created,
		r.Updated,
		r.Deleted,
		r.Conflicts,
		r.Failures,
		r.Warnings,
		r.AbortReason,
	}
}

type ConflictExportRow struct {
	ID           uint      `json:"Id"`
	SyncRunId    uint      `json:"SyncRunId"`
	Kind         string    `json:"Kind"`
	Resolution   string    `json:"Resolution"`
	Reason       string    `json:"Reason"`
	FirstOrigin  string    `json:"FirstOrigin"`
	FirstLabel   string    `json:"FirstLabel"`
	FirstStart   time.Time `json:"FirstStart"`
	FirstEnd     time.Time `json:"FirstEnd"`
	SecondOrigin string    `json:"SecondOrigin"`
	SecondLabel  string    `json:"SecondLabel"`
	SecondStart  time.Time `json:"SecondStart"`
	SecondEnd    time.Time `json:"SecondEnd"`
	Acknowledged bool      `json:"Acknowledged"`
}

func (r ConflictExportRow) GetCellValues() []interface{} {
	return []interface{}{
		r.ID,
		r.SyncRunId,
		r.Kind,
		r.Resolution,
		r.Reason,
		r.FirstOrigin,
		r.FirstLabel,
		exportTime(r.FirstStart),
		exportTime(r.FirstEnd),
		r.SecondOrigin,
		r.SecondLabel,
		exportTime(r.SecondStart),
		exportTime(r.SecondEnd),
		r.Acknowledged,
	}
}

func getSyncRunExportRows(ctx context.Context, limit int) ([]*SyncRunExportRow, error) {

	sql := `
SELECT
    id,
    triggered_by,
    status,
    started_at,
    finished_at,
    duration_ms,
    portal_count,
    calendar_count,
    created,
    updated,
    deleted,
    conflicts,
    failures,
    warnings,
    abort_reason
FROM
    sync_runs
ORDER BY id DESC
LIMIT @limit;
`

	var records []*SyncRunExportRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"limit": limit,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func getConflictExportRows(ctx context.Context, limit int) ([]*ConflictExportRow, error) {

	// LIMIT is not allowed directly inside IN, hence the derived table.
	sql := `
SELECT
    cr.id,
    cr.sync_run_id,
    cr.kind,
    cr.resolution,
    cr.reason,
    cr.first_origin,
    cr.first_label,
    cr.first_start,
    cr.first_end,
    cr.second_origin,
    cr.second_label,
    cr.second_start,
    cr.second_end,
    cr.acknowledged
FROM
    conflict_records AS cr
        JOIN
    (SELECT
        id
    FROM
        sync_runs
    ORDER BY id DESC
    LIMIT @limit) AS recent ON recent.id = cr.sync_run_id
ORDER BY cr.id DESC;
`

	var records []*ConflictExportRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"limit": limit,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

// ExportSyncActivityExcel streams a two-sheet workbook: the most recent runs
// and the conflicts those runs recorded.
func ExportSyncActivityExcel(ctx context.Context, w io.Writer, limit int) error {
	if limit <= 0 {
		limit = config.SearchLimit
	}

	runs, err := getSyncRunExportRows(ctx, limit)
	if err != nil {
		return err
	}
	conflicts, err := getConflictExportRows(ctx, limit)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	runSheet := "Sync Runs"
	conflictSheet := "Conflicts"
	if err := f.SetSheetName("Sheet1", runSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(conflictSheet); err != nil {
		return err
	}

	var runRows []ExcelExporter
	for _, r := range runs {
		runRows = append(runRows, r)
	}
	writeSheet(f, runSheet, runRows,
		"Run Id", "Triggered By", "Status", "Started At (UTC)", "Finished At (UTC)",
		"Duration (ms)", "Portal Bookings", "Calendar Events",
		"Created", "Updated", "Deleted", "Conflicts", "Failures", "Warnings", "Abort Reason",
	)

	var conflictRows []ExcelExporter
	for _, r := range conflicts {
		conflictRows = append(conflictRows, r)
	}
	writeSheet(f, conflictSheet, conflictRows,
		"Conflict Id", "Run Id", "Kind", "Resolution", "Reason",
		"First Origin", "First Label", "First Start (UTC)", "First End (UTC)",
		"Second Origin", "Second Label", "Second Start (UTC)", "Second End (UTC)",
		"Acknowledged",
	)

	return f.Write(w)
}

func writeSheet(f *excelize.File, sheetName string, data []ExcelExporter, headings ...string) {

	// Add headers
	col := 'A'
	for _, h := range headings {
		f.SetCellValue(sheetName, string(col)+"1", h)
		col++
	}

	// Add data
	rowNo := 2
	for _, d := range data {
		col := 'A'
		for _, value := range d.GetCellValues() {
			f.SetCellValue(sheetName, string(col)+fmt.Sprint(rowNo), value)
			col++
		}
		rowNo++
	}
}

func exportTime(t time.Time) string {
	return t.UTC().Format(exportTimeLayout)
}

func exportTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return exportTime(*t)
}
