package views

import (
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

type ForecastSource interface {
	GetForecast(ctx context.Context, zipCode string) (models.Forecast, error)
	InvalidateCache(ctx context.Context, zipCode string)
}

// ForecastState is the forecast page for one ZIP.
type ForecastState struct {
	ZipCode  string           `json:"zipCode"`
	Forecast *models.Forecast `json:"forecast,omitempty"`
	Loading  bool             `json:"loading"`
	Error    string           `json:"error,omitempty"`
}

// ForecastView loads forecasts synchronously; it keeps no state between calls.
type ForecastView struct {
	source ForecastSource
	logger *zap.Logger
}

func NewForecastView(source ForecastSource, logger *zap.Logger) *ForecastView {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForecastView{source: source, logger: logger}
}

// Load returns the forecast state for zipCode. On failure the state carries
// the user-facing message and the error is returned alongside for status mapping.
func (v *ForecastView) Load(ctx context.Context, zipCode string) (ForecastState, error) {
	st := ForecastState{ZipCode: zipCode}
	forecast, err := v.source.GetForecast(ctx, zipCode)
	if err != nil {
		st.Error = client.Message(err)
		observability.LoggerFromContext(ctx, v.logger).Debug("forecast load failed",
			zap.String("zipCode", zipCode), zap.Error(err))
		return st, err
	}
	st.Forecast = &forecast
	return st, nil
}

// Refresh invalidates the cached records for zipCode, then loads.
func (v *ForecastView) Refresh(ctx context.Context, zipCode string) (ForecastState, error) {
	v.source.InvalidateCache(ctx, zipCode)
	return v.Load(ctx, zipCode)
}
