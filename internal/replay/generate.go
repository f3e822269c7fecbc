package replay

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

// Profile describes synthetic input: human typing, scanner bursts, or a mix
// of both. Gaps are sampled from a log-normal distribution around the
// median and clamped to the profile's bounds.
type Profile struct {
	Name        string
	Description string

	// ScanRatio is the probability that an item is a barcode scan rather
	// than a typed word.
	ScanRatio float64

	// Human typing.
	TypingMedianMs   float64
	TypingStdDevMs   float64
	TypingMinMs      float64
	BurstProbability float64
	BurstIntervalMs  float64
	PauseProbability float64
	PauseMaxMs       float64

	// Scanner bursts.
	ScanMedianMs  float64
	ScanStdDevMs  float64
	ScanMaxMs     float64
	BarcodeMinLen int
	BarcodeMaxLen int

	// ItemGapMs separates consecutive words or scans.
	ItemGapMs float64
}

// Profiles are the built-in generator profiles.
var Profiles = map[string]Profile{
	"scanner": {
		Name:          "USB HID scanner",
		Description:   "Wired scanner typing each code in a few milliseconds",
		ScanRatio:     1,
		ScanMedianMs:  3,
		ScanStdDevMs:  1.5,
		ScanMaxMs:     8,
		BarcodeMinLen: 8,
		BarcodeMaxLen: 13,
		ItemGapMs:     800,
	},
	"slow-scanner": {
		Name:          "Bluetooth scanner",
		Description:   "Wireless scanner with jittery 10-20ms key gaps",
		ScanRatio:     1,
		ScanMedianMs:  13,
		ScanStdDevMs:  4,
		ScanMaxMs:     20,
		BarcodeMinLen: 8,
		BarcodeMaxLen: 13,
		ItemGapMs:     1200,
	},
	"normal": {
		Name:             "Normal human typist",
		Description:      "Typical typing with natural variation",
		TypingMedianMs:   180,
		TypingStdDevMs:   90,
		TypingMinMs:      40,
		BurstProbability: 0.1,
		BurstIntervalMs:  60,
		PauseProbability: 0.05,
		PauseMaxMs:       3000,
		ItemGapMs:        300,
	},
	"fast-typist": {
		Name:             "Fast typist",
		Description:      "Experienced typist with quick rollover bursts",
		TypingMedianMs:   90,
		TypingStdDevMs:   40,
		TypingMinMs:      25,
		BurstProbability: 0.2,
		BurstIntervalMs:  35,
		PauseProbability: 0.03,
		PauseMaxMs:       1500,
		ItemGapMs:        200,
	},
	"mixed": {
		Name:             "Checkout desk",
		Description:      "Typing interleaved with occasional scans",
		ScanRatio:        0.3,
		TypingMedianMs:   150,
		TypingStdDevMs:   70,
		TypingMinMs:      30,
		BurstProbability: 0.1,
		BurstIntervalMs:  50,
		PauseProbability: 0.05,
		PauseMaxMs:       2000,
		ScanMedianMs:     3,
		ScanStdDevMs:     1.5,
		ScanMaxMs:        8,
		BarcodeMinLen:    8,
		BarcodeMaxLen:    13,
		ItemGapMs:        500,
	},
}

// ProfileNames returns the built-in profile names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(Profiles))
	for name := range Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generated is a synthetic trace and the barcodes scanned into it.
type Generated struct {
	Trace    *Trace
	Barcodes []string
}

// Generate produces a trace of count items (words or scans) for profile.
// The same rng seed always yields the same trace. Scans end with
// terminationKey; words end with a space.
func Generate(rng *rand.Rand, p Profile, count int, terminationKey string) (*Generated, error) {
	if count < 0 {
		return nil, fmt.Errorf("replay: negative item count %d", count)
	}
	if p.ScanRatio > 0 && (p.BarcodeMinLen < 1 || p.BarcodeMaxLen < p.BarcodeMinLen) {
		return nil, fmt.Errorf("replay: profile %q has invalid barcode lengths", p.Name)
	}

	g := &generator{rng: rng, p: p, term: terminationKey}
	out := &Generated{Trace: &Trace{Name: p.Name}}

	for i := 0; i < count; i++ {
		if i > 0 {
			g.gap = p.ItemGapMs * (0.5 + rng.Float64())
		}
		if rng.Float64() < p.ScanRatio {
			out.Barcodes = append(out.Barcodes, g.scan())
		} else {
			g.word()
		}
	}
	out.Trace.Keys = g.keys
	return out, nil
}

type generator struct {
	rng  *rand.Rand
	p    Profile
	term string
	keys []Key
	// gap is the pending delay before the next key.
	gap            float64
	burstRemaining int
}

func (g *generator) press(key string, after float64) {
	if len(g.keys) == 0 {
		zero := 0.0
		g.keys = append(g.keys, Key{Key: key, AtMs: &zero})
		g.gap = 0
		return
	}
	ms := math.Round((g.gap+after)*1000) / 1000
	g.keys = append(g.keys, Key{Key: key, AfterMs: &ms})
	g.gap = 0
}

func (g *generator) scan() string {
	p := g.p
	n := p.BarcodeMinLen + g.rng.Intn(p.BarcodeMaxLen-p.BarcodeMinLen+1)

	var b strings.Builder
	for i := 0; i < n; i++ {
		digit := string(rune('0' + g.rng.Intn(10)))
		b.WriteString(digit)
		g.press(digit, g.scanInterval())
	}
	g.press(g.term, g.scanInterval())
	return b.String()
}

func (g *generator) scanInterval() float64 {
	d := logNormalSample(g.rng, g.p.ScanMedianMs, g.p.ScanStdDevMs)
	return math.Min(d, g.p.ScanMaxMs)
}

func (g *generator) word() {
	n := 2 + g.rng.Intn(7)
	for i := 0; i < n; i++ {
		g.press(string(rune('a'+g.rng.Intn(26))), g.typingInterval())
	}
	g.press(" ", g.typingInterval())
}

func (g *generator) typingInterval() float64 {
	p := g.p
	var ms float64
	switch {
	case g.burstRemaining > 0:
		ms = p.BurstIntervalMs * (0.5 + g.rng.Float64())
		g.burstRemaining--
	case g.rng.Float64() < p.PauseProbability:
		ms = p.TypingMedianMs + g.rng.Float64()*p.PauseMaxMs
	case g.rng.Float64() < p.BurstProbability:
		g.burstRemaining = 2 + g.rng.Intn(4)
		ms = p.BurstIntervalMs * (0.5 + g.rng.Float64())
	default:
		ms = logNormalSample(g.rng, p.TypingMedianMs, p.TypingStdDevMs)
	}
	return math.Max(ms, p.TypingMinMs)
}

// logNormalSample draws from a log-normal distribution with the given
// median, using stdDev to approximate the spread.
func logNormalSample(rng *rand.Rand, median, stdDev float64) float64 {
	mu := math.Log(median)
	sigma := math.Log(1 + stdDev/median)
	if sigma < 0.1 {
		sigma = 0.1
	}

	// Box-Muller
	u1 := 1 - rng.Float64()
	u2 := rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	return math.Exp(mu + sigma*z)
}

// Stats summarises the key gaps of a trace.
type Stats struct {
	Keys   int
	SpanMs float64
	MeanMs float64
	MinMs  float64
	MaxMs  float64
}

// Summarize computes gap statistics for t.
func Summarize(t *Trace) (Stats, error) {
	offsets, err := t.Offsets()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Keys: len(offsets)}
	if len(offsets) < 2 {
		return s, nil
	}

	s.MinMs = math.Inf(1)
	var sum float64
	for i := 1; i < len(offsets); i++ {
		gap := float64(offsets[i]-offsets[i-1]) / 1e6
		sum += gap
		s.MinMs = math.Min(s.MinMs, gap)
		s.MaxMs = math.Max(s.MaxMs, gap)
	}
	s.MeanMs = sum / float64(len(offsets)-1)
	s.SpanMs = float64(offsets[len(offsets)-1]-offsets[0]) / 1e6
	return s, nil
}
