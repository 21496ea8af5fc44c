package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/exports"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/spreadsheet"
)

func registerExportHandlers(api huma.API, svc Service) {
	type startOutput struct {
		Body struct {
			RunID     string `json:"run_id"`
			StatusURL string `json:"status_url"`
			EventsURL string `json:"events_url"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "start-export", Method: http.MethodPost, Path: "/api/v1/export", Summary: "Start an export", Description: "Returns 409 while another export is running.", Tags: []string{"Export"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct{}) (*startOutput, error) {
			id, err := svc.StartExport(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &startOutput{}
			out.Body.RunID = id
			out.Body.StatusURL = "/api/v1/status"
			out.Body.EventsURL = "/api/v1/export/events"
			return out, nil
		})

	type listOutput struct {
		Body struct {
			Exports []exports.Meta `json:"exports"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-exports", Method: http.MethodGet, Path: "/api/v1/exports", Summary: "List stored exports", Tags: []string{"Export"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := svc.ListExports(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Exports = metas
			if out.Body.Exports == nil {
				out.Body.Exports = []exports.Meta{}
			}
			return out, nil
		})

	type exportIDInput struct {
		ExportID string `path:"export_id"`
	}
	type getOutput struct {
		Body exports.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "get-export", Method: http.MethodGet, Path: "/api/v1/exports/{export_id}", Summary: "Get export metadata", Tags: []string{"Export"}},
		func(ctx context.Context, input *exportIDInput) (*getOutput, error) {
			meta, err := svc.GetExport(ctx, input.ExportID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &getOutput{Body: meta}, nil
		})

	type fileOutput struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}
	huma.Register(api, huma.Operation{OperationID: "download-export", Method: http.MethodGet, Path: "/api/v1/exports/{export_id}/file", Summary: "Download the export workbook", Tags: []string{"Export"}},
		func(ctx context.Context, input *exportIDInput) (*fileOutput, error) {
			data, meta, err := svc.ReadExportFile(ctx, input.ExportID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &fileOutput{
				ContentType:        spreadsheet.ContentType,
				ContentDisposition: fmt.Sprintf("attachment; filename=%q", meta.FileName),
				Body:               data,
			}, nil
		})

	type deleteOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-export", Method: http.MethodDelete, Path: "/api/v1/exports/{export_id}", Summary: "Delete a stored export", Tags: []string{"Export"}},
		func(ctx context.Context, input *exportIDInput) (*deleteOutput, error) {
			if err := svc.DeleteExport(ctx, input.ExportID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}
