package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"fleetplan/internal/domain"
	"fleetplan/internal/engine"
	"fleetplan/internal/engine/auth"
	"fleetplan/internal/projection"
)

type AnnualQuery struct {
	Year       int    `query:"year" required:"true" minimum:"1"`
	Categories string `query:"categories" doc:"Comma separated category filter"`
}

type MonthlyQuery struct {
	Year       int    `query:"year" required:"true" minimum:"1"`
	Month      int    `query:"month" required:"true" minimum:"0" maximum:"11" doc:"Zero-based month"`
	Categories string `query:"categories" doc:"Comma separated category filter"`
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Fleet task catalog",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.ScheduleRead); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: catalogResponse(e.Catalog)}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-annual-assignments",
		Method:      http.MethodGet,
		Path:        "/schedule/annual",
		Summary:     "Annual task records",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *AnnualQuery) (*struct {
		Body AssignmentsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.ScheduleRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.AnnualAssignments(ctx, input.Year, splitList(input.Categories))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentsResponse `json:"body"`
		}{Body: AssignmentsResponse{Year: input.Year, Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-monthly-assignments",
		Method:      http.MethodGet,
		Path:        "/schedule/monthly",
		Summary:     "Monthly task records",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *MonthlyQuery) (*struct {
		Body AssignmentsResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, auth.ScheduleRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.MonthlyAssignments(ctx, input.Year, input.Month, splitList(input.Categories))
		if err != nil {
			return nil, handleError(err)
		}
		month := input.Month
		return &struct {
			Body AssignmentsResponse `json:"body"`
		}{Body: AssignmentsResponse{Year: input.Year, Month: &month, Items: nonNilSlice(items)}}, nil
	})
}

// Rejected writes answer 200 with success=false; only transport and storage failures are
// reported as errors.
func registerUpdates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-monthly-cell",
		Method:      http.MethodPost,
		Path:        "/schedule/monthly/update",
		Summary:     "Write one monthly cell",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body MonthlyUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.WriteResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.ScheduleWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		res, err := e.WriteMonthlyCell(ctx, domain.MonthlyCellWrite{
			Year:    input.Body.Year,
			Month:   input.Body.Month,
			Day:     input.Body.Day,
			Vehicle: input.Body.Vehicle,
			Code:    input.Body.Code,
			ActorID: principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WriteResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-annual-cell",
		Method:      http.MethodPost,
		Path:        "/schedule/annual/update",
		Summary:     "Write one annual slot",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body AnnualUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.WriteResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.ScheduleWrite)
		if err != nil {
			return nil, handleError(err)
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		res, err := e.WriteAnnualCell(ctx, domain.AnnualCellWrite{
			Year:      input.Body.Year,
			Month:     input.Body.Month,
			Vehicle:   input.Body.Vehicle,
			Category:  input.Body.Category,
			SlotIndex: input.Body.SlotIndex,
			Code:      input.Body.Code,
			ActorID:   principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WriteResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerPreSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preschedule",
		Method:      http.MethodPost,
		Path:        "/schedule/preschedule",
		Summary:     "Generate an annual or monthly plan",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body PreScheduleRequest `json:"body"`
	}) (*struct {
		Body engine.PreScheduleResult `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, auth.PlanGenerate)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.PreScheduleOptions{
			Year:       input.Body.Year,
			Categories: input.Body.Categories,
			Seed:       input.Body.Seed,
			ActorID:    principal.ActorID,
		}
		var res engine.PreScheduleResult
		if input.Body.Month != nil {
			opts.Month = *input.Body.Month
			res, err = e.PreScheduleMonthly(ctx, opts)
		} else {
			res, err = e.PreScheduleAnnual(ctx, opts)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PreScheduleResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerViews(api huma.API, e engine.Engine, logger *slog.Logger) {
	projector := projection.New(e.Catalog)

	annualView := func(ctx context.Context, q *AnnualQuery) (*projection.AnnualView, error) {
		if _, err := requirePermission(ctx, auth.ScheduleRead); err != nil {
			return nil, err
		}
		items, err := e.AnnualAssignments(ctx, q.Year, splitList(q.Categories))
		if err != nil {
			return nil, err
		}
		view, err := projector.ProjectAnnual(q.Year, items)
		if err != nil {
			return nil, err
		}
		for _, o := range view.Overflows {
			logger.Warn("annual slot overflow", "fleet", e.Catalog.Fleet.ID, "year", q.Year, "overflow", o.String())
		}
		return view, nil
	}
	monthlyView := func(ctx context.Context, q *MonthlyQuery) (*projection.MonthlyView, error) {
		if _, err := requirePermission(ctx, auth.ScheduleRead); err != nil {
			return nil, err
		}
		items, err := e.MonthlyAssignments(ctx, q.Year, q.Month, splitList(q.Categories))
		if err != nil {
			return nil, err
		}
		return projector.ProjectMonthly(q.Year, q.Month, items)
	}

	huma.Register(api, huma.Operation{
		OperationID: "annual-view",
		Method:      http.MethodGet,
		Path:        "/views/annual",
		Summary:     "Projected annual grid",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *AnnualQuery) (*struct {
		Body *projection.AnnualView `json:"body"`
	}, error) {
		view, err := annualView(ctx, input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *projection.AnnualView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "monthly-view",
		Method:      http.MethodGet,
		Path:        "/views/monthly",
		Summary:     "Projected monthly grid",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *MonthlyQuery) (*struct {
		Body *projection.MonthlyView `json:"body"`
	}, error) {
		view, err := monthlyView(ctx, input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *projection.MonthlyView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "annual-overview",
		Method:      http.MethodGet,
		Path:        "/views/annual/overview",
		Summary:     "Annual totals and busiest months",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AnnualQuery
		Highlight string `query:"highlight" doc:"Category to rank months and vehicles by"`
	}) (*struct {
		Body projection.Overview `json:"body"`
	}, error) {
		view, err := annualView(ctx, &input.AnnualQuery)
		if err != nil {
			return nil, handleError(err)
		}
		if err := checkHighlight(e, input.Highlight); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body projection.Overview `json:"body"`
		}{Body: projection.AnnualOverview(view, input.Highlight)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "monthly-overview",
		Method:      http.MethodGet,
		Path:        "/views/monthly/overview",
		Summary:     "Monthly totals and busiest days",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		MonthlyQuery
		Highlight string `query:"highlight" doc:"Category to rank days and vehicles by"`
	}) (*struct {
		Body projection.Overview `json:"body"`
	}, error) {
		view, err := monthlyView(ctx, &input.MonthlyQuery)
		if err != nil {
			return nil, handleError(err)
		}
		if err := checkHighlight(e, input.Highlight); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body projection.Overview `json:"body"`
		}{Body: projection.MonthlyOverview(view, input.Highlight)}, nil
	})
}

// checkHighlight refuses a highlight that is not a catalog category.
func checkHighlight(e engine.Engine, highlight string) error {
	if highlight != "" && !e.Catalog.HasCategory(highlight) {
		return fmt.Errorf("unknown category %s", highlight)
	}
	return nil
}
