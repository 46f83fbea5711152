package web

import (
	"encoding/json"

	"github.com/sweeney/espresso-controller/internal/status"
)

// SensorsJSON is the JSON representation of the raw sensor readings.
type SensorsJSON struct {
	Time        int64   `json:"time"`
	Temperature float64 `json:"temperature"`
	Pressure    float64 `json:"pressure"`
	Flow        float64 `json:"flow,omitempty"`
}

func formatSensors(snap status.Snapshot) []byte {
	sj := SensorsJSON{
		Time:        snap.Now.Unix(),
		Temperature: snap.Control.Temperature.Raw,
		Pressure:    snap.Control.Pressure.Raw,
	}
	if snap.Control.Flow != nil {
		sj.Flow = snap.Control.Flow.Raw
	}

	data, _ := json.MarshalIndent(sj, "", "  ")
	return data
}
