package snapshot

import "driftpursuit/client/internal/schema"

// Baseline is one historical field image fed to the predictor, paired with
// the server time it was captured at (§4.H step 11).
type Baseline struct {
	Time  int32
	Image []byte
}

// Predictor is the external, pure prediction function (§1, §6): given up to
// three prior baselines and their times plus the new server time, it
// produces a predicted field image and the set of fields it chose to
// extrapolate. It must not mutate its inputs.
type Predictor interface {
	PredictSnapshot(s schema.Schema, baselines []Baseline, newTime int32, fieldMask uint8) (prediction []byte, fieldsChanged []byte)
}
