package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/mortalite/pkg/kit"
	"github.com/hazyhaar/mortalite/pkg/query"
)

// Shared request/response types used by both HTTP and MCP transports.

// aggregateReq carries every parameter an aggregate may take. Unused fields
// are ignored by the endpoint.
type aggregateReq struct {
	Filters query.Filters
	Years   []int
	Bucket  int
	Limit   int
}

type countResponse struct {
	Count int64 `json:"count"`
}

type averageAgeResponse struct {
	AverageAge *float64 `json:"average_age"`
}

type yoyResponse struct {
	Year     int      `json:"year"`
	DeltaPct *float64 `json:"delta_pct"`
}

type mostAffectedResponse struct {
	Year  int                  `json:"year"`
	Group *query.AgeGroupCount `json:"group"`
}

// requestError is a client mistake; HTTP answers 400.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

var errYearRequired = &requestError{"year is required"}

func isRequestError(err error) bool {
	var re *requestError
	return errors.As(err, &re)
}

// endpoint names, shared by routes and MCP tools.
const (
	epTotal        = "total_count"
	epAverageAge   = "average_age"
	epYoY          = "year_over_year"
	epDaily        = "daily_series"
	epHeatmap      = "month_day_matrix"
	epPyramid      = "age_pyramid"
	epByDepartment = "by_department"
	epByYear       = "deaths_by_year"
	epMonthly      = "monthly_counts"
	epSexSplit     = "sex_split"
	epAgeTrends    = "age_trends"
	epAgeSummary   = "age_trends_summary"
	epMedianAge    = "median_age"
	epMostAffected = "most_affected_age_group"
	epStats        = "database_stats"
	epYears        = "available_years"
	epDepartments  = "available_departments"
	epImports      = "import_history"
)

// endpoints returns every read-only aggregate as a kit.Endpoint, wrapped with
// validation and logging.
func endpoints(svc *query.Service, logger *slog.Logger) map[string]kit.Endpoint {
	raw := map[string]func(context.Context, *aggregateReq) (any, error){
		epTotal: func(ctx context.Context, r *aggregateReq) (any, error) {
			n, err := svc.TotalCount(ctx, r.Filters)
			return countResponse{n}, err
		},
		epAverageAge: func(ctx context.Context, r *aggregateReq) (any, error) {
			a, err := svc.AverageAge(ctx, r.Filters)
			return averageAgeResponse{a}, err
		},
		epYoY: func(ctx context.Context, r *aggregateReq) (any, error) {
			if r.Filters.Year == 0 {
				return nil, errYearRequired
			}
			d, err := svc.YearOverYearDelta(ctx, r.Filters.Year, r.Filters)
			return yoyResponse{r.Filters.Year, d}, err
		},
		epDaily: func(ctx context.Context, r *aggregateReq) (any, error) {
			if r.Filters.Year == 0 {
				return nil, errYearRequired
			}
			return svc.DailySeries(ctx, r.Filters.Year, r.Filters)
		},
		epHeatmap: func(ctx context.Context, r *aggregateReq) (any, error) {
			if r.Filters.Year == 0 {
				return nil, errYearRequired
			}
			return svc.MonthDayMatrix(ctx, r.Filters.Year, r.Filters)
		},
		epPyramid: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.AgePyramid(ctx, r.Filters)
		},
		epByDepartment: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.ByDepartment(ctx, r.Filters)
		},
		epByYear: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.DeathsByYear(ctx, r.Filters)
		},
		epMonthly: func(ctx context.Context, r *aggregateReq) (any, error) {
			if r.Filters.Year == 0 {
				return nil, errYearRequired
			}
			return svc.MonthlyCounts(ctx, r.Filters.Year, r.Filters)
		},
		epSexSplit: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.SexSplit(ctx, r.Filters)
		},
		epAgeTrends: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.ByAgeBucketAndYear(ctx, r.Bucket, r.Years, r.Filters)
		},
		epAgeSummary: func(ctx context.Context, r *aggregateReq) (any, error) {
			if len(r.Years) == 0 {
				return nil, &requestError{"years is required"}
			}
			return svc.AgeTrendsSummary(ctx, r.Years, r.Bucket)
		},
		epMedianAge: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.MedianAgeByYear(ctx, r.Years, r.Filters)
		},
		epMostAffected: func(ctx context.Context, r *aggregateReq) (any, error) {
			if r.Filters.Year == 0 {
				return nil, errYearRequired
			}
			g, err := svc.MostAffectedAgeGroup(ctx, r.Filters.Year, r.Bucket, r.Filters)
			return mostAffectedResponse{r.Filters.Year, g}, err
		},
		epStats: func(ctx context.Context, _ *aggregateReq) (any, error) {
			return svc.DatabaseStats(ctx)
		},
		epYears: func(ctx context.Context, _ *aggregateReq) (any, error) {
			return svc.AvailableYears(ctx)
		},
		epDepartments: func(ctx context.Context, _ *aggregateReq) (any, error) {
			return svc.AvailableDepartments(ctx)
		},
		epImports: func(ctx context.Context, r *aggregateReq) (any, error) {
			return svc.ImportHistory(ctx, r.Limit)
		},
	}

	out := make(map[string]kit.Endpoint, len(raw))
	for name, fn := range raw {
		ep := func(ctx context.Context, request any) (any, error) {
			return fn(ctx, request.(*aggregateReq))
		}
		out[name] = kit.Chain(kit.Logging(logger, name), validate)(ep)
	}
	return out
}

// validate normalizes the request to an *aggregateReq and rejects invalid
// filters before the query runs.
func validate(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, _ := request.(*aggregateReq)
		if req == nil {
			req = &aggregateReq{}
		}
		if err := req.Filters.Validate(); err != nil {
			return nil, &requestError{err.Error()}
		}
		return next(ctx, req)
	}
}
