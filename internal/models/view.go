package models

import "strings"

// CityCard is the render-ready summary of a tracked city.
type CityCard struct {
	Name          string  `json:"name"`
	Region        string  `json:"region"`
	Country       string  `json:"country"`
	Temperature   float64 `json:"temperature"`
	Unit          Unit    `json:"unit"`
	ConditionText string  `json:"conditionText"`
	IconURL       string  `json:"iconUrl"`
	Humidity      float64 `json:"humidity"`
	WindKph       float64 `json:"windKph"`
	PressureMb    float64 `json:"pressureMb"`
	LastUpdated   string  `json:"lastUpdated"`
	Favorite      bool    `json:"favorite"`
}

// NewCityCard builds a card using the temperature field that matches unit.
func NewCityCard(rec CityRecord, unit Unit, favorite bool) CityCard {
	return CityCard{
		Name:          rec.Location.Name,
		Region:        rec.Location.Region,
		Country:       rec.Location.Country,
		Temperature:   rec.Temperature(unit),
		Unit:          unit,
		ConditionText: rec.Current.Condition.Text,
		IconURL:       IconURL(rec.Current.Condition.Icon),
		Humidity:      rec.Current.Humidity,
		WindKph:       rec.Current.WindKph,
		PressureMb:    rec.Current.PressureMb,
		LastUpdated:   rec.Current.LastUpdated,
		Favorite:      favorite,
	}
}

// IconURL turns the provider's protocol-relative icon paths into https URLs.
func IconURL(icon string) string {
	if strings.HasPrefix(icon, "//") {
		return "https:" + icon
	}
	return icon
}

// DailyPoint is one day on the multi-day chart.
type DailyPoint struct {
	Date     string  `json:"date"`
	AvgTemp  float64 `json:"avgTemp"`
	PrecipMm float64 `json:"precipMm"`
	WindKph  float64 `json:"windKph"`
}

// HourlyPoint is one hour on the hourly chart. Time is ISO-like ("2026-10-19T13:00").
type HourlyPoint struct {
	Time     string  `json:"time"`
	Temp     float64 `json:"temp"`
	PrecipMm float64 `json:"precipMm"`
	WindKph  float64 `json:"windKph"`
}

// ForecastChart is the chart data derived from a forecast for one unit.
type ForecastChart struct {
	Location string        `json:"location"`
	Unit     Unit          `json:"unit"`
	Days     int           `json:"days"`
	Daily    []DailyPoint  `json:"daily"`
	Hourly   []HourlyPoint `json:"hourly"`
}

// NewForecastChart flattens the forecast into daily and hourly series in the given unit.
func NewForecastChart(rec ForecastRecord, unit Unit) ForecastChart {
	chart := ForecastChart{
		Location: rec.Location.Name,
		Unit:     unit,
		Days:     len(rec.Forecast.Forecastday),
		Daily:    make([]DailyPoint, 0, len(rec.Forecast.Forecastday)),
		Hourly:   []HourlyPoint{},
	}
	for _, d := range rec.Forecast.Forecastday {
		avg := d.Day.AvgtempC
		if unit == UnitFahrenheit {
			avg = d.Day.AvgtempF
		}
		chart.Daily = append(chart.Daily, DailyPoint{
			Date:     d.Date,
			AvgTemp:  avg,
			PrecipMm: d.Day.TotalprecipMm,
			WindKph:  d.Day.MaxwindKph,
		})
		for _, h := range d.Hour {
			temp := h.TempC
			if unit == UnitFahrenheit {
				temp = h.TempF
			}
			chart.Hourly = append(chart.Hourly, HourlyPoint{
				Time:     strings.Replace(h.Time, " ", "T", 1),
				Temp:     temp,
				PrecipMm: h.PrecipMm,
				WindKph:  h.WindKph,
			})
		}
	}
	return chart
}
