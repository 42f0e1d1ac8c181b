package keystore

import (
	"context"
	"encoding/hex"
	"fmt"
)

// Measurements is the five-quantity TEE identity the DAO approves
// (spec §9 glossary): MRTD plus the four runtime-measurement registers.
type Measurements struct {
	MRTD  string `json:"mrtd"`
	RTMR0 string `json:"rtmr0"`
	RTMR1 string `json:"rtmr1"`
	RTMR2 string `json:"rtmr2"`
	RTMR3 string `json:"rtmr3"`
}

// SimulatedAttestor is used when tee_mode=none: it produces a quote that
// carries the report-data verbatim with a fixed marker in place of real
// hardware evidence, so the rest of the bootstrap flow (registration,
// approval polling, key-request) can be exercised without real TEE
// hardware.
type SimulatedAttestor struct{}

func (SimulatedAttestor) Quote(ctx context.Context, reportData [32]byte) (string, error) {
	return "simulated:" + hex.EncodeToString(reportData[:]), nil
}

// ExpectedMeasurements gates attestation verification against a configured
// allow-list of approved TEE configurations (spec §4.5 decrypt handler,
// step (a)).
type ExpectedMeasurements struct {
	Allowed []Measurements
}

// Verify checks a quote against the configured measurement allow-list.
// Simulated quotes (tee_mode=none) are accepted unconditionally: there is
// nothing to measure.
func (e ExpectedMeasurements) Verify(teeMode string, quoteHex string, m Measurements) error {
	if teeMode == "none" {
		return nil
	}
	for _, allowed := range e.Allowed {
		if allowed == m {
			return nil
		}
	}
	return fmt.Errorf("keystore: attestation measurements not in the approved allow-list")
}
