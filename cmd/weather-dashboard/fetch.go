package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kjstillabower/weather-dashboard/internal/config"
	"github.com/kjstillabower/weather-dashboard/internal/models"
)

type fetchCmd struct {
	Queries []string `arg:"" name:"query" help:"Locations to fetch (city name, postcode or lat,lon)."`
	Unit    string   `help:"Temperature unit, C or F. Defaults to the stored preference."`
	Days    int      `help:"Also fetch a forecast of this many days (3, 5 or 7)." default:"0"`

	out io.Writer `kong:"-"`
}

type fetchOutput struct {
	Cards    []models.CityCard     `json:"cards"`
	Forecast *models.ForecastChart `json:"forecast,omitempty"`
	Errors   map[string]string     `json:"errors,omitempty"`
}

// Run fetches every query through the store, so the cache and stored unit apply
// exactly as they do for the server. It fails only if every query failed.
func (f *fetchCmd) Run(g *globals) error {
	cfg, err := config.Load(g.dir)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout*2)
	defer cancel()

	a, err := buildApp(ctx, cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.close(g.logger)

	if f.Unit != "" {
		u, err := models.ParseUnit(f.Unit)
		if err != nil {
			return err
		}
		if err := a.dash.SetUnit(ctx, u); err != nil {
			return err
		}
	}

	out := fetchOutput{Cards: []models.CityCard{}}
	for _, q := range f.Queries {
		card, err := a.dash.AddCity(ctx, q)
		if err != nil {
			if out.Errors == nil {
				out.Errors = map[string]string{}
			}
			out.Errors[q] = err.Error()
			continue
		}
		out.Cards = append(out.Cards, card)
	}
	if f.Days != 0 && len(f.Queries) > 0 {
		chart, err := a.dash.Forecast(ctx, f.Queries[0], f.Days)
		if err != nil {
			return fmt.Errorf("forecast %q: %w", f.Queries[0], err)
		}
		out.Forecast = &chart
	}

	w := f.out
	if w == nil {
		w = os.Stdout
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if len(out.Cards) == 0 && len(f.Queries) > 0 {
		return fmt.Errorf("all %d queries failed", len(f.Queries))
	}
	return nil
}
