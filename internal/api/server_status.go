package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/cdpcontrol"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/controller"
)

func registerStatusHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statusOutput struct {
		Body controller.Status
	}
	huma.Register(api, huma.Operation{OperationID: "get-status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Auth, registry and export status", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			out := &statusOutput{}
			out.Body = svc.Status(ctx)
			return out, nil
		})

	type tabsOutput struct {
		Body struct {
			Tabs []cdpcontrol.PageInfo `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List brokerage tabs", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabsOutput{}
			out.Body.Tabs = tabs
			if out.Body.Tabs == nil {
				out.Body.Tabs = []cdpcontrol.PageInfo{}
			}
			return out, nil
		})

	type reinstallOutput struct {
		Body struct {
			Hooked int `json:"hooked"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "reinstall-interceptor", Method: http.MethodPost, Path: "/api/v1/interceptor/install", Summary: "Re-run the interceptor install routine", Description: "Idempotent: already hooked clients and attached tabs are skipped.", Tags: []string{"Status"}},
		func(ctx context.Context, input *struct{}) (*reinstallOutput, error) {
			out := &reinstallOutput{}
			out.Body.Hooked = svc.Reinstall(ctx)
			return out, nil
		})
}
