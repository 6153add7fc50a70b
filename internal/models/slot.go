package models

// Slot is one bookable reservation opportunity returned by the upstream
// provider for a location/date/party-size query. Slots are produced fresh on
// every scan and never persisted.
type Slot struct {
	DisplayTime string `json:"time"`      // as returned upstream, e.g. "6:45 PM"
	Available   bool   `json:"available"`
	ReservedTS  int64  `json:"reserved_ts"` // opaque upstream token needed to book
	TypeID      int64  `json:"type_id"`     // upstream reservation type
}

// Match pairs a watch with one slot that satisfies its time window. It is the
// unit of work for booking and notification.
type Match struct {
	Watch    *Watch
	Slot     Slot
	Location Location
}

// Location is a static reference entity loaded from configuration.
type Location struct {
	Key        string  `yaml:"key" json:"key"`
	Name       string  `yaml:"name" json:"name"`
	MerchantID int64   `yaml:"merchant_id" json:"merchant_id"`
	TypeID     int64   `yaml:"type_id" json:"type_id"`
	City       string  `yaml:"city" json:"city"`
	State      string  `yaml:"state" json:"state"`
	Brand      string  `yaml:"brand" json:"brand"`
	Lat        float64 `yaml:"lat" json:"lat"`
	Lon        float64 `yaml:"lon" json:"lon"`
}
