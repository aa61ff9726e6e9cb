package api

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/mortalite/pkg/kit"
	"github.com/hazyhaar/mortalite/pkg/query"
)

type mcpTool struct {
	endpoint    string
	description string
	// options beyond the common filters
	years, bucket, limit bool
}

var mcpTools = []mcpTool{
	{endpoint: epTotal, description: "Count deaths matching the filters."},
	{endpoint: epAverageAge, description: "Average age at death (one decimal) matching the filters; null when no record has a known age."},
	{endpoint: epYoY, description: "Percentage change of deaths of `year` over the previous year; null when the previous year has none. Requires year."},
	{endpoint: epDaily, description: "Deaths per day of `year`, in date order. Requires year."},
	{endpoint: epHeatmap, description: "Deaths of `year` grouped by month and day, for a calendar heatmap. Requires year."},
	{endpoint: epPyramid, description: "Deaths by 5-year age bucket and sex (1 men, 2 women)."},
	{endpoint: epByDepartment, description: "Deaths per department code; rates per 100,000 inhabitants when a year is given and population data exists."},
	{endpoint: epByYear, description: "Deaths per year."},
	{endpoint: epMonthly, description: "Deaths per month of `year`, twelve entries. Requires year."},
	{endpoint: epSexSplit, description: "Deaths of men and women matching the filters."},
	{endpoint: epAgeTrends, description: "Deaths by age bucket and year, with population and rate per 100,000 when known.", years: true, bucket: true},
	{endpoint: epAgeSummary, description: "Deaths per age bucket for each of `years`, with the evolution between the last two years.", years: true, bucket: true},
	{endpoint: epMedianAge, description: "Median age at death per year.", years: true},
	{endpoint: epMostAffected, description: "Age bucket with the most deaths in `year`. Requires year.", bucket: true},
	{endpoint: epStats, description: "Store statistics: record count, death date range, department and import counts."},
	{endpoint: epYears, description: "Death years present in the store, newest first."},
	{endpoint: epDepartments, description: "Department codes present in the store."},
	{endpoint: epImports, description: "Latest import log entries, newest first.", limit: true},
}

// RegisterMCPTools registers every read-only aggregate as an MCP tool.
func RegisterMCPTools(srv *server.MCPServer, svc *query.Service, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	eps := endpoints(svc, logger)
	for _, t := range mcpTools {
		kit.RegisterMCPTool(srv, t.tool(), eps[t.endpoint], decodeMCPAggregate)
	}
}

func (t mcpTool) tool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(t.description),
		mcp.WithNumber("year", mcp.Description("Death year, e.g. 2023")),
		mcp.WithNumber("month", mcp.Description("Death month, 1-12")),
		mcp.WithString("dept", mcp.Description("Department code, e.g. 75, 2A, 974")),
		mcp.WithNumber("sex", mcp.Description("1 for men, 2 for women")),
		mcp.WithNumber("age_min", mcp.Description("Minimum age at death, inclusive")),
		mcp.WithNumber("age_max", mcp.Description("Maximum age at death, inclusive")),
	}
	if t.years {
		opts = append(opts, mcp.WithString("years", mcp.Description("Comma-separated years, e.g. 2022,2023")))
	}
	if t.bucket {
		opts = append(opts, mcp.WithNumber("bucket", mcp.Description("Age bucket width in years (5 or 10)")))
	}
	if t.limit {
		opts = append(opts, mcp.WithNumber("limit", mcp.Description("Maximum entries, default 50")))
	}
	return mcp.NewTool(t.endpoint, opts...)
}

func decodeMCPAggregate(req mcp.CallToolRequest) (any, error) {
	args := req.GetArguments()
	r := &aggregateReq{}

	num := func(key string) (float64, bool, error) {
		v, ok := args[key]
		if !ok || v == nil {
			return 0, false, nil
		}
		switch n := v.(type) {
		case float64:
			return n, true, nil
		case string:
			if n == "" {
				return 0, false, nil
			}
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0, false, fmt.Errorf("%s: %q is not a number", key, n)
			}
			return f, true, nil
		}
		return 0, false, fmt.Errorf("%s: unexpected type %T", key, v)
	}

	for key, dst := range map[string]*int{
		"year":   &r.Filters.Year,
		"month":  &r.Filters.Month,
		"sex":    &r.Filters.Sex,
		"bucket": &r.Bucket,
		"limit":  &r.Limit,
	} {
		f, ok, err := num(key)
		if err != nil {
			return nil, err
		}
		if ok {
			*dst = int(f)
		}
	}

	lo, hasLo, err := num("age_min")
	if err != nil {
		return nil, err
	}
	hi, hasHi, err := num("age_max")
	if err != nil {
		return nil, err
	}
	if hasLo || hasHi {
		if !hasHi {
			hi = 200
		}
		r.Filters.Ages = &query.AgeRange{Min: lo, Max: hi}
	}

	if d, _ := args["dept"].(string); d != "" {
		r.Filters.Department = strings.TrimSpace(d)
	}
	if ys, _ := args["years"].(string); ys != "" {
		for _, s := range strings.Split(ys, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("years: %q is not a year", s)
			}
			r.Years = append(r.Years, n)
		}
	}
	return r, nil
}
