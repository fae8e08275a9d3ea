package selector

import (
	"math/rand"

	"github.com/quayside/keygate/internal/core/domain"
)

// fixedWeight is the weight assigned to credentials without quota
// accounting so they still participate in weighted picks.
const fixedWeight = 100

func pickRandom(eligible []*domain.Credential) *domain.Credential {
	return eligible[rand.Intn(len(eligible))]
}

// pickWeighted biases towards credentials with the most quota headroom:
// weight = max(1, total-used), or a fixed constant when quota is off.
func pickWeighted(eligible []*domain.Credential) *domain.Credential {
	weights := make([]int64, len(eligible))
	var total int64
	for i, cred := range eligible {
		w := int64(fixedWeight)
		if cred.QuotaEnabled && cred.QuotaTotal > 0 {
			w = cred.QuotaTotal - cred.QuotaUsed
			if w < 1 {
				w = 1
			}
		}
		weights[i] = w
		total += w
	}

	pick := rand.Int63n(total)
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			return eligible[i]
		}
	}
	return eligible[len(eligible)-1]
}
