package builtin

import (
	"context"
	"encoding/json"

	"github.com/hattiebot/familiar/internal/core"
)

// WeatherTool returns a fixed sample report; there is no weather backend.
type WeatherTool struct{}

type weatherReport struct {
	Location    string     `json:"location"`
	Temperature tempRange  `json:"temperature"`
	Conditions  string     `json:"conditions"`
	Humidity    int        `json:"humidity"`
	Wind        wind       `json:"wind"`
	Precip      precip     `json:"precipitation"`
	Forecast    []forecast `json:"forecast"`
}

type tempRange struct {
	Current   int `json:"current"`
	FeelsLike int `json:"feels_like"`
	Min       int `json:"min"`
	Max       int `json:"max"`
}

type wind struct {
	Speed     int    `json:"speed"`
	Direction string `json:"direction"`
}

type precip struct {
	Chance int    `json:"chance"`
	Type   string `json:"type"`
}

type forecast struct {
	Day        string `json:"day"`
	High       int    `json:"high"`
	Low        int    `json:"low"`
	Conditions string `json:"conditions"`
}

func (WeatherTool) Name() string { return "getWeather" }

func (t WeatherTool) Definition() core.ToolDefinition {
	return definition(t.Name(), "Get the current weather for a location", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"location": map[string]any{"type": "string", "description": "The city and state/country to get weather for"},
		},
		"required": []string{"location"},
	})
}

func (WeatherTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Location string `json:"location"`
	}
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	return weatherReport{
		Location:    args.Location,
		Temperature: tempRange{Current: 72, FeelsLike: 74, Min: 65, Max: 80},
		Conditions:  "Partly Cloudy",
		Humidity:    45,
		Wind:        wind{Speed: 8, Direction: "NE"},
		Precip:      precip{Chance: 20, Type: "rain"},
		Forecast: []forecast{
			{Day: "Today", High: 80, Low: 65, Conditions: "Partly Cloudy"},
			{Day: "Tomorrow", High: 82, Low: 67, Conditions: "Sunny"},
			{Day: "Wednesday", High: 78, Low: 64, Conditions: "Scattered Showers"},
		},
	}, nil
}
