package models

import "slices"

// ForecastRecord is a multi-day forecast response. It is replaced wholesale, never merged.
type ForecastRecord struct {
	Location Location `json:"location"`
	Current  Current  `json:"current"`
	Forecast Forecast `json:"forecast"`
}

type Forecast struct {
	Forecastday []ForecastDay `json:"forecastday"`
}

// ForecastDay holds one day's aggregates and its hourly samples in time order.
type ForecastDay struct {
	Date      string       `json:"date"`
	DateEpoch int64        `json:"date_epoch"`
	Day       DayAggregate `json:"day"`
	Astro     Astro        `json:"astro"`
	Hour      []HourSample `json:"hour"`
}

type DayAggregate struct {
	MaxtempC          float64     `json:"maxtemp_c"`
	MaxtempF          float64     `json:"maxtemp_f"`
	MintempC          float64     `json:"mintemp_c"`
	MintempF          float64     `json:"mintemp_f"`
	AvgtempC          float64     `json:"avgtemp_c"`
	AvgtempF          float64     `json:"avgtemp_f"`
	MaxwindMph        float64     `json:"maxwind_mph"`
	MaxwindKph        float64     `json:"maxwind_kph"`
	TotalprecipMm     float64     `json:"totalprecip_mm"`
	TotalprecipIn     float64     `json:"totalprecip_in"`
	Avghumidity       float64     `json:"avghumidity"`
	DailyChanceOfRain float64     `json:"daily_chance_of_rain"`
	Condition         Condition   `json:"condition"`
	UV                float64     `json:"uv"`
	AirQuality        *AirQuality `json:"air_quality,omitempty"`
}

type Astro struct {
	Sunrise string `json:"sunrise"`
	Sunset  string `json:"sunset"`
}

type HourSample struct {
	TimeEpoch    int64     `json:"time_epoch"`
	Time         string    `json:"time"`
	TempC        float64   `json:"temp_c"`
	TempF        float64   `json:"temp_f"`
	Condition    Condition `json:"condition"`
	WindKph      float64   `json:"wind_kph"`
	PrecipMm     float64   `json:"precip_mm"`
	Humidity     float64   `json:"humidity"`
	FeelslikeC   float64   `json:"feelslike_c"`
	FeelslikeF   float64   `json:"feelslike_f"`
	ChanceOfRain float64   `json:"chance_of_rain"`
}

// Clone returns a deep copy of r. Day and hour slices and air-quality readings are
// not shared with the original.
func (r ForecastRecord) Clone() ForecastRecord {
	out := r
	out.Current = r.Current.clone()
	if r.Forecast.Forecastday != nil {
		out.Forecast.Forecastday = make([]ForecastDay, len(r.Forecast.Forecastday))
		for i, day := range r.Forecast.Forecastday {
			day.Hour = slices.Clone(day.Hour)
			if day.Day.AirQuality != nil {
				aq := *day.Day.AirQuality
				day.Day.AirQuality = &aq
			}
			out.Forecast.Forecastday[i] = day
		}
	}
	return out
}
