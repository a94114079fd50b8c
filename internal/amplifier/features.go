package amplifier

import (
	"math"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// FeatureVersion names the feature contract below. A model artifact built
// for a different contract is rejected at load time.
const FeatureVersion = "v1"

// FeatureCount is the length of a v1 feature vector.
const FeatureCount = 8

// Features builds the v1 feature vector for tx, in this order:
//
//	geo risk, failed PIN count, min(age,365)/365, min(device_velocity,60)/60,
//	min(tx_velocity_5m,20)/20, high-value ratio, first-time payee (0/1),
//	log1p(amount)
//
// Non-finite values are replaced with 0.
func Features(tx fraud.Transaction) []float32 {
	ftp := 0.0
	if tx.FirstTimePayee {
		ftp = 1
	}
	raw := [FeatureCount]float64{
		tx.GeoRiskScore,
		float64(tx.FailedPinAttempts),
		math.Min(float64(tx.AccountAgeDays), 365) / 365,
		math.Min(float64(tx.DeviceVelocity), 60) / 60,
		math.Min(float64(tx.TxVelocity5m), 20) / 20,
		tx.HighValueRatio,
		ftp,
		math.Log1p(math.Max(tx.Amount, 0)),
	}

	out := make([]float32, FeatureCount)
	for i, v := range raw {
		out[i] = sanitize(v)
	}
	return out
}

func sanitize(v float64) float32 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	f := float32(v)
	if math.IsInf(float64(f), 0) {
		return 0
	}
	return f
}
