package domain

// RawRecord is one undecoded delay observation exactly as it arrived on the
// wire. Keys may still be camelCase; values are whatever encoding/json
// produced. The pipeline normalizes and types it later.
type RawRecord map[string]any

// EventKind enumerates the batch-collection protocol events.
type EventKind string

const (
	EventRequest      EventKind = "REQUEST"
	EventDataTransfer EventKind = "DATA_TRANSFER"
	EventComplete     EventKind = "COMPLETE"
)

// DataTransferEvent is the message payload exchanged with the data
// collectors. Outbound REQUEST events carry an empty Data slice.
type DataTransferEvent struct {
	Type      string      `json:"type"`
	Key       string      `json:"key"`
	EventType EventKind   `json:"eventType"`
	Data      []RawRecord `json:"data"`
}

// NewBatchRequest builds the REQUEST event that asks the collectors to start
// streaming delay batches for a fresh correlation key.
func NewBatchRequest(key string) DataTransferEvent {
	return DataTransferEvent{
		Type:      "DataTransferEvent",
		Key:       key,
		EventType: EventRequest,
		Data:      []RawRecord{},
	}
}

// WeatherInfo is the nested weather observation attached to a delay record.
// Pointer fields distinguish "absent" from zero; the imputer fills the gaps.
type WeatherInfo struct {
	Time                 string   `json:"time,omitempty"`
	Address              string   `json:"address,omitempty"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	RelativeHumidity     *float64 `json:"relativeHumidity,omitempty"`
	WindSpeedAt10m       *float64 `json:"windSpeedAt10m,omitempty"`
	WindSpeedAt80m       *float64 `json:"windSpeedAt80m,omitempty"`
	IsSnowing            *bool    `json:"isSnowing,omitempty"`
	SnowFall             *float64 `json:"snowFall,omitempty"`
	SnowDepth            *float64 `json:"snowDepth,omitempty"`
	IsRaining            *bool    `json:"isRaining,omitempty"`
	Precipitation        *float64 `json:"precipitation,omitempty"`
	Rain                 *float64 `json:"rain,omitempty"`
	Showers              *float64 `json:"showers,omitempty"`
	VisibilityInMeters   *float64 `json:"visibilityInMeters,omitempty"`
	CloudCoverPercentage *float64 `json:"cloudCoverPercentage,omitempty"`
}

// PredictionRequest is the serving-side payload: one delay record without
// the actual times and delays, which are what we are asked to predict.
type PredictionRequest struct {
	StationCode        string      `json:"stationCode" validate:"required"`
	TrainNumber        string      `json:"trainNumber" validate:"required"`
	LineNumber         string      `json:"lineNumber,omitempty"`
	ScheduledArrival   *string     `json:"scheduledArrival,omitempty"`
	ScheduledDeparture *string     `json:"scheduledDeparture,omitempty"`
	Date               string      `json:"date" validate:"required"`
	StationLatitude    *float64    `json:"stationLatitude" validate:"required"`
	StationLongitude   *float64    `json:"stationLongitude" validate:"required"`
	Weather            WeatherInfo `json:"weather"`
}
