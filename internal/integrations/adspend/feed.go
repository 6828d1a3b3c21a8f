package adspend

import (
	"context"
	"fmt"

	"github.com/feedsync/feedsync/internal/data"
	"github.com/feedsync/feedsync/internal/domain/model"
	"github.com/feedsync/feedsync/internal/service"
)

// JobDailySpend is the job name this integration registers.
const JobDailySpend = "ad_spend_daily"

// DailySpend returns the daily campaign spend feed. The platform reports the
// same (campaign, date) pair from multiple breakdowns within one export, so
// duplicate rows in a batch merge additively instead of last-write-wins.
func (c *Client) DailySpend(spec model.JobSpec) service.JobDefinition {
	return service.JobDefinition{
		Name: JobDailySpend,
		Fetch: func(ctx context.Context, cursor int64, pageSize int) ([]service.SourceRecord, error) {
			rows, err := c.FetchPage(ctx, cursor, pageSize)
			if err != nil {
				return nil, err
			}
			records := make([]service.SourceRecord, 0, len(rows))
			for _, row := range rows {
				records = append(records, service.SourceRecord{Key: row.ID, Raw: row})
			}
			return records, nil
		},
		Transform: transformSpendRow,
		Upsert: data.UpsertSpec{
			Table: "ad_spend",
			Columns: []string{
				"campaign_id", "spend_date", "platform", "impressions", "clicks", "spend",
			},
			ConflictCols: []string{"campaign_id", "spend_date"},
			Merge:        data.SumColumns("impressions", "clicks", "spend"),
		},
		PageSize:  spec.PageSize,
		Preflight: c.Ping,
	}
}

func transformSpendRow(raw any) (data.Row, error) {
	row, ok := raw.(spendRow)
	if !ok {
		return nil, fmt.Errorf("unexpected record type %T", raw)
	}
	if row.CampaignID == "" || row.Date == "" {
		return nil, fmt.Errorf("spend row %d missing campaign or date", row.ID)
	}
	return data.Row{
		"campaign_id": row.CampaignID,
		"spend_date":  row.Date,
		"platform":    row.Platform,
		"impressions": row.Impressions,
		"clicks":      row.Clicks,
		"spend":       row.Spend,
	}, nil
}
