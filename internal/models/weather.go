package models

// Location identifies a place as reported by the weather provider.
// Name is the key used for tracked-city fold-in.
type Location struct {
	Name           string  `json:"name"`
	Region         string  `json:"region"`
	Country        string  `json:"country"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	TzID           string  `json:"tz_id"`
	LocaltimeEpoch int64   `json:"localtime_epoch"`
	Localtime      string  `json:"localtime"`
}

type Condition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

// AirQuality is only present on forecast responses requested with aqi=yes.
type AirQuality struct {
	CO           float64 `json:"co"`
	NO2          float64 `json:"no2"`
	O3           float64 `json:"o3"`
	SO2          float64 `json:"so2"`
	PM25         float64 `json:"pm2_5"`
	PM10         float64 `json:"pm10"`
	USEPAIndex   int     `json:"us-epa-index"`
	GBDefraIndex int     `json:"gb-defra-index"`
}

// Current holds current conditions in both unit systems.
type Current struct {
	LastUpdatedEpoch int64       `json:"last_updated_epoch"`
	LastUpdated      string      `json:"last_updated"`
	TempC            float64     `json:"temp_c"`
	TempF            float64     `json:"temp_f"`
	IsDay            int         `json:"is_day"`
	Condition        Condition   `json:"condition"`
	WindMph          float64     `json:"wind_mph"`
	WindKph          float64     `json:"wind_kph"`
	WindDegree       float64     `json:"wind_degree"`
	WindDir          string      `json:"wind_dir"`
	PressureMb       float64     `json:"pressure_mb"`
	PressureIn       float64     `json:"pressure_in"`
	PrecipMm         float64     `json:"precip_mm"`
	PrecipIn         float64     `json:"precip_in"`
	Humidity         float64     `json:"humidity"`
	Cloud            float64     `json:"cloud"`
	FeelslikeC       float64     `json:"feelslike_c"`
	FeelslikeF       float64     `json:"feelslike_f"`
	DewpointC        float64     `json:"dewpoint_c"`
	DewpointF        float64     `json:"dewpoint_f"`
	VisKm            float64     `json:"vis_km"`
	VisMiles         float64     `json:"vis_miles"`
	UV               float64     `json:"uv"`
	GustMph          float64     `json:"gust_mph"`
	GustKph          float64     `json:"gust_kph"`
	AirQuality       *AirQuality `json:"air_quality,omitempty"`
}

// CityRecord is a current-conditions response. Records in the tracked list are unique by Location.Name.
type CityRecord struct {
	Location Location `json:"location"`
	Current  Current  `json:"current"`
}

func (c Current) clone() Current {
	if c.AirQuality != nil {
		aq := *c.AirQuality
		c.AirQuality = &aq
	}
	return c
}

// Clone returns a copy of c that shares no air-quality reading with the original.
func (c CityRecord) Clone() CityRecord {
	c.Current = c.Current.clone()
	return c
}

// Temperature returns the current temperature in the given unit.
func (c CityRecord) Temperature(u Unit) float64 {
	if u == UnitFahrenheit {
		return c.Current.TempF
	}
	return c.Current.TempC
}

// LocationSuggestion is one search result.
type LocationSuggestion struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Region  string  `json:"region"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	URL     string  `json:"url"`
}
