// Copyright (c) The claimr-go Authors.
// Licensed under the MIT License.
package evidence

import (
	"fmt"
	"strings"
)

// HeaderVersion is the GNSSLogger file format version rendered by Header.
const HeaderVersion = "v2.0.0.1"

var rawColumns = []string{
	"Raw", "ElapsedRealtimeMillis", "TimeNanos", "LeapSecond",
	"TimeUncertaintyNanos", "FullBiasNanos", "BiasNanos",
	"BiasUncertaintyNanos", "DriftNanosPerSecond",
	"DriftUncertaintyNanosPerSecond", "HardwareClockDiscontinuityCount", "Svid",
	"TimeOffsetNanos", "State", "ReceivedSvTimeNanos",
	"ReceivedSvTimeUncertaintyNanos", "Cn0DbHz", "PseudorangeRateMetersPerSecond",
	"PseudorangeRateUncertaintyMetersPerSecond", "AccumulatedDeltaRangeState",
	"AccumulatedDeltaRangeMeters", "AccumulatedDeltaRangeUncertaintyMeters",
	"CarrierFrequencyHz", "CarrierCycles", "CarrierPhase",
	"CarrierPhaseUncertainty", "MultipathIndicator", "SnrInDb",
	"ConstellationType", "AgcDb", "CarrierFrequencyHz",
}

// Header renders the comment block that opens a GNSSLogger raw measurement
// file for the given device. The verifier requires it in front of the raw
// lines.
func Header(platform, manufacturer, model string) string {
	const comment = "# "

	var sb strings.Builder
	line := func(s string) {
		sb.WriteString(comment)
		sb.WriteString(s)
		sb.WriteByte('\n')
	}

	line("")
	line("Header Description:")
	line("")
	line(fmt.Sprintf(
		"Version: %s Platform: %s Manufacturer: %s Model: %s",
		HeaderVersion, platform, manufacturer, model,
	))
	line("")
	line(strings.Join(rawColumns, ","))
	line("")
	return sb.String()
}
