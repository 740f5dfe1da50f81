package models

import "time"

// CurrentWeather is a normalized snapshot of current conditions for a ZIP code.
// Temperatures are whole degrees Celsius and wind speed is km/h.
type CurrentWeather struct {
	Temp        int       `json:"temp"`
	Description string    `json:"description"`
	Humidity    int       `json:"humidity"`
	WindSpeed   int       `json:"windSpeed"`
	Icon        string    `json:"icon"`
	CityName    string    `json:"cityName"`
	Timestamp   time.Time `json:"timestamp"`
}

// ForecastDay is one daily record of a Forecast.
type ForecastDay struct {
	Date        string `json:"date"`
	TempMax     int    `json:"tempMax"`
	TempMin     int    `json:"tempMin"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Humidity    int    `json:"humidity"`
	WindSpeed   int    `json:"windSpeed"`
}

// Forecast holds up to five daily records for a ZIP code.
type Forecast struct {
	Location  string        `json:"location"`
	Days      []ForecastDay `json:"days"`
	Timestamp time.Time     `json:"timestamp"`
}

// WeatherFetchState tracks the transient fetch status for one tab.
// Weather is nil until a fetch resolves.
type WeatherFetchState struct {
	ZipCode string          `json:"zipCode"`
	Weather *CurrentWeather `json:"weather"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
}

// Tab is the read-only projection of a WeatherFetchState.
type Tab struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Closable bool   `json:"closable"`
}
