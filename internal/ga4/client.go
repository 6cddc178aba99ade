package ga4

import (
	"context"
	"fmt"

	analyticsdata "cloud.google.com/go/analytics/apiv1beta"
	"cloud.google.com/go/analytics/apiv1beta/analyticsdatapb"
	"google.golang.org/api/option"
)

// reportPageSize is the explicit page size for report requests. Requests
// without a limit are silently capped at 10,000 rows by the API; paging by
// offset keeps wide windows complete.
const reportPageSize = 10000

// Client is the real ReportClient backed by the GA4 Data API.
type Client struct {
	property string
	api      *analyticsdata.BetaAnalyticsDataClient

	pageSize int64
	// run is a seam over the API call for tests.
	run func(ctx context.Context, req *analyticsdatapb.RunReportRequest) (*analyticsdatapb.RunReportResponse, error)
}

// NewClient authenticates with the service-account JSON at credentialsPath and
// targets the given numeric property id.
func NewClient(ctx context.Context, propertyID, credentialsPath string) (*Client, error) {
	api, err := analyticsdata.NewBetaAnalyticsDataClient(ctx, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("ga4: create data client: %w", err)
	}
	return &Client{
		property: "properties/" + propertyID,
		api:      api,
		pageSize: reportPageSize,
		run: func(ctx context.Context, req *analyticsdatapb.RunReportRequest) (*analyticsdatapb.RunReportResponse, error) {
			return api.RunReport(ctx, req)
		},
	}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// RunReport implements ReportClient. Results are paged by offset until the
// reported total row count is exhausted.
func (c *Client) RunReport(ctx context.Context, q Query) ([]Row, error) {
	var rows []Row
	var offset int64
	for {
		req := &analyticsdatapb.RunReportRequest{
			Property: c.property,
			DateRanges: []*analyticsdatapb.DateRange{
				{StartDate: q.StartDate, EndDate: q.EndDate},
			},
			Limit:  c.pageSize,
			Offset: offset,
		}
		for _, d := range q.Dimensions {
			req.Dimensions = append(req.Dimensions, &analyticsdatapb.Dimension{Name: d})
		}
		for _, m := range q.Metrics {
			req.Metrics = append(req.Metrics, &analyticsdatapb.Metric{Name: m})
		}

		resp, err := c.run(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("ga4: run %s report: %w", q.Category, err)
		}

		page := resp.GetRows()
		for _, r := range page {
			row := Row{
				Dimensions: make([]string, 0, len(r.GetDimensionValues())),
				Metrics:    make([]string, 0, len(r.GetMetricValues())),
			}
			for _, dv := range r.GetDimensionValues() {
				row.Dimensions = append(row.Dimensions, dv.GetValue())
			}
			for _, mv := range r.GetMetricValues() {
				row.Metrics = append(row.Metrics, mv.GetValue())
			}
			rows = append(rows, row)
		}

		offset += int64(len(page))
		if len(page) == 0 || offset >= int64(resp.GetRowCount()) {
			return rows, nil
		}
	}
}
