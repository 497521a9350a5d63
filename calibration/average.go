package calibration

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/netft/wrench"
)

// Average returns the per-channel mean and standard deviation of the readings. The result
// takes the frame and time of the most recent reading.
func Average(readings []wrench.Wrench) (wrench.Wrench, [6]float64, error) {
	var spread [6]float64
	if len(readings) == 0 {
		return wrench.Wrench{}, spread, NewPreconditionError("no readings to average")
	}

	var mean [6]float64
	for ch := 0; ch < 6; ch++ {
		data := make(stats.Float64Data, len(readings))
		for i, r := range readings {
			data[i] = r.Vector()[ch]
		}
		m, err := stats.Mean(data)
		if err != nil {
			return wrench.Wrench{}, spread, errors.Wrapf(err, "averaging channel %d", ch)
		}
		sd, err := stats.StandardDeviation(data)
		if err != nil {
			return wrench.Wrench{}, spread, errors.Wrapf(err, "spread of channel %d", ch)
		}
		mean[ch] = m
		spread[ch] = sd
	}
	last := readings[len(readings)-1]
	return wrench.FromVector(mean, last.Frame, last.Time), spread, nil
}
