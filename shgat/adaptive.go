package shgat

// HeadConfig is the (heads, headDim, hiddenDim) triple a graph size and
// max level determine (§3 "Adaptive head count"). hiddenDim is always
// heads*headDim.
type HeadConfig struct {
	Heads     int
	HeadDim   int
	HiddenDim int
}

// maxHeads caps the bonus-adjusted head count (§3: "capped at 16").
const maxHeads = 16

// AdaptiveHeadConfig is a pure function of graph size (|V|+|E|) and the
// deepest occupied capability level, implementing the table in §3 plus its
// level-bonus modifier (+1 heads at maxLevel>=2, +2 at >=3, applied before
// the 16-head cap). headDim is held at 16 across every bucket: the table's
// own hiddenDim column (96, 128, 192, 224-256) only reconciles with
// heads*headDim when headDim=16 throughout, so that is the value property
// 5 (§8) checks against — see DESIGN.md for the headDim=32 note in §3's
// prose, which this resolves in the table's favor.
func AdaptiveHeadConfig(graphSize, maxLevel int) HeadConfig {
	const headDim = 16

	var heads int
	switch {
	case graphSize < 50:
		heads = 4
	case graphSize < 200:
		heads = 6
	case graphSize < 500:
		heads = 8
	case graphSize < 1000:
		heads = 12
	default:
		heads = 14
	}

	switch {
	case maxLevel >= 3:
		heads += 2
	case maxLevel >= 2:
		heads += 1
	}
	if heads > maxHeads {
		heads = maxHeads
	}

	return HeadConfig{Heads: heads, HeadDim: headDim, HiddenDim: heads * headDim}
}
