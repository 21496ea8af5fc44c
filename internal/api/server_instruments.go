package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/controller"
	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/types"
)

func registerInstrumentHandlers(api huma.API, svc Service) {
	type listOutput struct {
		Body struct {
			Count       int                `json:"count"`
			Instruments []types.Instrument `json:"instruments"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-instruments", Method: http.MethodGet, Path: "/api/v1/instruments", Summary: "List captured instruments", Tags: []string{"Instruments"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			out := &listOutput{}
			out.Body.Instruments = svc.ListInstruments(ctx)
			if out.Body.Instruments == nil {
				out.Body.Instruments = []types.Instrument{}
			}
			out.Body.Count = len(out.Body.Instruments)
			return out, nil
		})

	type lookupOutput struct {
		Body struct {
			Results []controller.LookupResult `json:"results"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "lookup-instruments", Method: http.MethodPost, Path: "/api/v1/instruments/lookup", Summary: "Resolve tickers and add them to the registry", Tags: []string{"Instruments"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Symbols []string `json:"symbols" doc:"Ticker symbols to resolve" example:"[\"AAPL\",\"MSFT\"]"`
			}
		}) (*lookupOutput, error) {
			results, err := svc.LookupSymbols(ctx, input.Body.Symbols)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &lookupOutput{}
			out.Body.Results = results
			return out, nil
		})
}
