package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/strandworks/salonsync_backend/config"
	"bitbucket.org/strandworks/salonsync_backend/utils"
)

type SyncActivityResponse struct {
	Day        string `json:"Day"`
	RunCount   int    `json:"RunCount"`
	Aborted    int    `json:"Aborted"`
	Created    int    `json:"Created"`
	Updated    int    `json:"Updated"`
	Deleted    int    `json:"Deleted"`
	Conflicts  int    `json:"Conflicts"`
	Failures   int    `json:"Failures"`
	Warnings   int    `json:"Warnings"`
	AvgMs      int64  `json:"AvgMs"`
}

// GetSyncActivityReport aggregates run outcomes per day over the given window.
func GetSyncActivityReport(ctx context.Context, days int) ([]*SyncActivityResponse, error) {
	if days <= 0 {
		days = 14
	}
	started := time.Now()
	defer logSlowReport(ctx, "syncActivity", started, map[string]any{"days": days})

	cacheKey := fmt.Sprintf("Report:SyncActivity:%d", days)
	if reportCacheEnabled() {
		var cached []*SyncActivityResponse
		if ok, err := cacheGet(cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}

	sqlT := `
SELECT
    DATE_FORMAT(started_at, '%Y-%m-%d') AS day,
    COUNT(id) AS run_count,
    SUM(CASE WHEN status = 'ABORTED' THEN 1 ELSE 0 END) AS aborted,
    SUM(created) AS created,
    SUM(updated) AS updated,
    SUM(deleted) AS deleted,
    SUM(conflicts) AS conflicts,
    SUM(failures) AS failures,
    SUM(warnings) AS warnings,
    AVG(duration_ms) AS avg_ms
FROM
    sync_runs
WHERE
    started_at >= @fromDate
GROUP BY day
ORDER BY day DESC;
`

	sql, err := utils.ExecTemplate(sqlT, map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	fromDate := time.Now().UTC().AddDate(0, 0, -days)

	var records []*SyncActivityResponse
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"fromDate": fromDate,
	}).Scan(&records).Error; err != nil {
		return nil, err
	}

	if reportCacheEnabled() {
		_ = cacheSet(cacheKey, &records, reportCacheTTL())
	}

	return records, nil
}

func (r SyncActivityResponse) GetCellValues() []interface{} {
	return []interface{}{
		r.Day,
		r.RunCount,
		r.Aborted,
		r.Created,
		r.Updated,
		r.Deleted,
		r.Conflicts,
		r.Failures,
		r.Warnings,
		r.AvgMs,
	}
}
