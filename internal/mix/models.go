package mix

import (
	"sort"
	"time"
)

// Fuel is an upstream fuel-type label as published by NESO.
type Fuel string

const (
	FuelGas       Fuel = "GAS"
	FuelCoal      Fuel = "COAL"
	FuelNuclear   Fuel = "NUCLEAR"
	FuelWind      Fuel = "WIND"
	FuelWindEmbed Fuel = "WIND_EMB"
	FuelHydro     Fuel = "HYDRO"
	FuelImports   Fuel = "IMPORTS"
	FuelBiomass   Fuel = "BIOMASS"
	FuelOther     Fuel = "OTHER"
	FuelSolar     Fuel = "SOLAR"
	FuelStorage   Fuel = "STORAGE"
)

// Fuels lists every fuel column ingested from the generation-mix dataset.
var Fuels = []Fuel{
	FuelGas, FuelCoal, FuelNuclear, FuelWind, FuelWindEmbed, FuelHydro,
	FuelImports, FuelBiomass, FuelOther, FuelSolar, FuelStorage,
}

// TimeLayout is the canonical textual form of a record timestamp.
// It sorts lexically in chronological order.
const TimeLayout = "2006-01-02T15:04:05Z"

// Record is one half-hourly generation-mix observation.
// Timestamp is the unique key; it is always UTC with second precision.
type Record struct {
	Timestamp       time.Time          `json:"timestamp" validate:"required"`
	FuelBreakdown   map[string]float64 `json:"fuelBreakdown" validate:"dive,keys,required,endkeys,gte=0"`
	CarbonIntensity float64            `json:"carbonIntensity" validate:"gte=0"`
}

// TotalMW sums the fuel breakdown.
func (r Record) TotalMW() float64 {
	var total float64
	for _, mw := range r.FuelBreakdown {
		total += mw
	}
	return total
}

// Key returns the canonical storage key for the record.
func (r Record) Key() string {
	return r.Timestamp.UTC().Format(TimeLayout)
}

// RawRecord is a row as returned by a Source, before parsing.
// Values stay textual so that parse failures surface as per-record rejects.
type RawRecord struct {
	Timestamp       string
	Fuels           map[string]string
	CarbonIntensity string
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Fetched  int       `json:"fetched"`
	Upserted int       `json:"upserted"`
	Rejected int       `json:"rejected"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`

	// Skipped is set when the window was empty and nothing was fetched.
	Skipped bool `json:"skipped,omitempty"`
}

// RunReport describes a completed (or failed) ingestion run.
type RunReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Result    IngestResult  `json:"result"`
	Err       string        `json:"error,omitempty"`
}

// Summary is an aggregate view over a range of records.
type Summary struct {
	Rows               int                `json:"rows"`
	From               time.Time          `json:"from"`
	To                 time.Time          `json:"to"`
	AvgCarbonIntensity float64            `json:"avgCarbonIntensity"`
	AvgFuelMW          map[string]float64 `json:"avgFuelMW"`
}

// SortRecords orders records by timestamp ascending, in place.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
