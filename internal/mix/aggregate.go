package mix

// Summarize combines a range of records into a Summary.
// Carbon intensity and each fuel are averaged over the rows that carry them.
func Summarize(records []Record) Summary {
	if len(records) == 0 {
		return Summary{AvgFuelMW: map[string]float64{}}
	}

	var sumCI float64
	fuelSums := make(map[string]float64)
	fuelCounts := make(map[string]int)

	from, to := records[0].Timestamp, records[0].Timestamp
	for _, r := range records {
		sumCI += r.CarbonIntensity

		for fuel, mw := range r.FuelBreakdown {
			fuelSums[fuel] += mw
			fuelCounts[fuel]++
		}

		if r.Timestamp.Before(from) {
			from = r.Timestamp
		}
		if r.Timestamp.After(to) {
			to = r.Timestamp
		}
	}

	avgFuel := make(map[string]float64, len(fuelSums))
	for fuel, sum := range fuelSums {
		avgFuel[fuel] = sum / float64(fuelCounts[fuel])
	}

	return Summary{
		Rows:               len(records),
		From:               from,
		To:                 to,
		AvgCarbonIntensity: sumCI / float64(len(records)),
		AvgFuelMW:          avgFuel,
	}
}
