package quantized

import (
	"github.com/chewxy/math32"
	"github.com/viterin/vek"
)

// RawDistance computes the true distance between two raw float32
// vectors under the named metric. Cosine distance assumes vectors were
// L2-normalized at insert time (spec §3: "Cosine is implemented as Dot
// after L2-preprocessing"), so it reduces to a dot product here.
func RawDistance(a, b []float32, distance string) float32 {
	switch distance {
	case "dot", "cosine":
		return vek.Dot(a, b)
	case "l1":
		diff := vek.Sub(a, b)
		var sum float32
		for _, v := range diff {
			if v < 0 {
				v = -v
			}
			sum += v
		}
		return sum
	case "l2":
		diff := vek.Sub(a, b)
		sq := vek.Mul(diff, diff)
		return math32.Sqrt(vek.Sum(sq))
	default:
		return vek.Dot(a, b)
	}
}

// invertIfNeeded negates a score so that larger is always better when
// invert is set, matching score_point/score_internal's contract.
func invertIfNeeded(score float32, invert bool) float32 {
	if invert {
		return -score
	}
	return score
}
