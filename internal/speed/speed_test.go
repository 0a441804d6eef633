package speed

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/speedcal/internal/pass"
)

var ho = pass.Geometry{SensorCount: 4, SpacingMM: 100, ScaleFactor: 87.1}

// uniform builds a complete pass at constant speed. For BtoA the last
// physical sensor fires first.
func uniform(n int, t0, dtUs uint32, dir pass.Direction) pass.Record {
	var r pass.Record
	r.Reset(n)
	for i := 0; i < n; i++ {
		step := i
		if dir == pass.BtoA {
			step = n - 1 - i
		}
		r.Mark(i, t0+uint32(step)*dtUs)
	}
	r.Direction = dir
	r.DurationUs = r.Span()
	return r
}

func mph(mmPerSec float64) float64 {
	return mmPerSec * 87.1 * 3600 / (1e6 * 1.609344)
}

func TestUniformAtoB(t *testing.T) {
	rec := uniform(4, 1_000_000, 200_000, pass.AtoB)

	res, ok := Compute(rec, ho)
	require.True(t, ok)
	assert.Equal(t, 3, res.IntervalCount)
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint32(200_000), res.IntervalUs[i])
		assert.InDelta(t, 500.0, res.ModelMMs[i], 1e-9)
		assert.InDelta(t, mph(500), res.ScaleMPH[i], 1e-9)
		assert.InDelta(t, 97.3, res.ScaleMPH[i], 0.5)
	}
	assert.InDelta(t, 97.3, res.AverageMPH, 0.5)
}

func TestUniformBtoA(t *testing.T) {
	rec := uniform(4, 1_000_000, 200_000, pass.BtoA)
	require.Equal(t, uint32(1_600_000), rec.TimestampUs[0])

	res, ok := Compute(rec, ho)
	require.True(t, ok)
	assert.Equal(t, []uint32{200_000, 200_000, 200_000}, res.Intervals())
	for _, v := range res.ModelSpeeds() {
		assert.InDelta(t, 500.0, v, 1e-9)
	}
	assert.InDelta(t, 97.3, res.AverageMPH, 0.5)
}

func TestSameSpeedBothDirections(t *testing.T) {
	ab, okAB := Compute(uniform(4, 1_000_000, 150_000, pass.AtoB), ho)
	ba, okBA := Compute(uniform(4, 1_000_000, 150_000, pass.BtoA), ho)
	require.True(t, okAB)
	require.True(t, okBA)
	assert.Equal(t, ab.IntervalCount, ba.IntervalCount)
	assert.InDelta(t, ab.AverageMPH, ba.AverageMPH, 1e-9)
}

func TestFewerThanTwoTriggers(t *testing.T) {
	var none pass.Record
	none.Reset(4)
	res, ok := Compute(none, ho)
	assert.False(t, ok)
	assert.Zero(t, res.IntervalCount)
	assert.Zero(t, res.AverageMPH)

	var one pass.Record
	one.Reset(4)
	one.Mark(0, 1_000_000)
	one.Direction = pass.AtoB
	res, ok = Compute(one, ho)
	assert.False(t, ok)
	assert.Zero(t, res.IntervalCount)
}

func TestTwoSensorsOnly(t *testing.T) {
	var r pass.Record
	r.Reset(4)
	r.Mark(0, 1_000_000)
	r.Mark(1, 1_200_000)
	r.Direction = pass.AtoB

	res, ok := Compute(r, ho)
	require.True(t, ok)
	assert.Equal(t, 1, res.IntervalCount)
	assert.InDelta(t, 500.0, res.ModelMMs[0], 1.0)
}

func TestGapInMiddle(t *testing.T) {
	var r pass.Record
	r.Reset(4)
	r.Mark(0, 1_000_000)
	r.Mark(1, 1_200_000)
	r.Mark(3, 1_600_000)
	r.Direction = pass.AtoB

	res, ok := Compute(r, ho)
	require.True(t, ok)
	assert.Equal(t, 1, res.IntervalCount)
	assert.Equal(t, uint32(200_000), res.IntervalUs[0])
}

func TestSingleGapRemovesTwoIntervals(t *testing.T) {
	for n := 3; n <= pass.MaxSensors; n++ {
		for missing := 1; missing < n-1; missing++ {
			full := uniform(n, 1_000_000, 100_000, pass.AtoB)
			gapped := full
			gapped.Triggered[missing] = false
			gapped.TimestampUs[missing] = 0
			gapped.TriggeredCount--

			want, _ := Compute(full, ho)
			got, ok := Compute(gapped, ho)
			require.Equal(t, n-3 > 0, ok, "n=%d missing=%d", n, missing)
			require.Equal(t, n-3, got.IntervalCount, "n=%d missing=%d", n, missing)

			// Survivors keep their values and their travel order.
			k := 0
			for i := 0; i < want.IntervalCount; i++ {
				if i == missing-1 || i == missing {
					continue
				}
				assert.Equal(t, want.IntervalUs[i], got.IntervalUs[k])
				assert.InDelta(t, want.ScaleMPH[i], got.ScaleMPH[k], 1e-9)
				k++
			}
		}
	}
}

func TestMultipleGaps(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		missing []int
		want    []uint32
	}{
		// Triggered: 0 1 _ _ 4 5
		{"two adjacent missing", 6, []int{2, 3}, []uint32{100_000, 100_000}},
		// Triggered: 0 _ 2 _ 4 5
		{"alternating missing", 6, []int{1, 3}, []uint32{100_000}},
		// Triggered: _ 1 2 3 _
		{"both endpoints missing", 5, []int{0, 4}, []uint32{100_000, 100_000}},
		// Triggered: 0 _ 2 _ 4
		{"no adjacent pair left", 5, []int{1, 3}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := uniform(tt.n, 2_000_000, 100_000, pass.AtoB)
			for _, m := range tt.missing {
				r.Triggered[m] = false
				r.TriggeredCount--
			}
			res, ok := Compute(r, ho)
			assert.Equal(t, len(tt.want) > 0, ok)
			assert.Equal(t, len(tt.want), res.IntervalCount)
			if len(tt.want) > 0 {
				assert.Equal(t, tt.want, res.Intervals())
			}
		})
	}
}

func TestZeroDeltaSkipped(t *testing.T) {
	var r pass.Record
	r.Reset(4)
	r.Mark(0, 1_000_000)
	r.Mark(1, 1_200_000)
	r.Mark(2, 1_200_000)
	r.Mark(3, 1_400_000)
	r.Direction = pass.AtoB

	res, ok := Compute(r, ho)
	require.True(t, ok)
	assert.Equal(t, []uint32{200_000, 200_000}, res.Intervals())
	for _, v := range res.ScaleSpeeds() {
		assert.False(t, math.IsInf(v, 0))
	}
}

func TestAllZeroDeltasInvalid(t *testing.T) {
	var r pass.Record
	r.Reset(2)
	r.Mark(0, 5)
	r.Mark(1, 5)
	r.Direction = pass.AtoB
	_, ok := Compute(r, ho)
	assert.False(t, ok)
}

func TestSlowSpeed(t *testing.T) {
	// 50 mm/s model speed.
	res, ok := Compute(uniform(4, 1_000_000, 2_000_000, pass.AtoB), ho)
	require.True(t, ok)
	assert.InDelta(t, mph(50), res.AverageMPH, 0.5)
	assert.Greater(t, res.AverageMPH, 5.0)
	assert.Less(t, res.AverageMPH, 15.0)
}

func TestFastSpeed(t *testing.T) {
	// 2000 mm/s model speed.
	res, ok := Compute(uniform(4, 1_000_000, 50_000, pass.AtoB), ho)
	require.True(t, ok)
	assert.InDelta(t, mph(2000), res.AverageMPH, 2.0)
}

func TestIntervalTimes(t *testing.T) {
	var r pass.Record
	r.Reset(4)
	r.Mark(0, 1_000_000)
	r.Mark(1, 1_100_000)
	r.Mark(2, 1_250_000)
	r.Mark(3, 1_350_000)
	r.Direction = pass.AtoB

	res, ok := Compute(r, ho)
	require.True(t, ok)
	assert.Equal(t, []uint32{100_000, 150_000, 100_000}, res.Intervals())
}

func TestAcceleratingPassUsesUnweightedMean(t *testing.T) {
	var r pass.Record
	r.Reset(4)
	r.Mark(0, 1_000_000)
	r.Mark(1, 1_200_000)
	r.Mark(2, 1_300_000)
	r.Mark(3, 1_350_000)
	r.Direction = pass.AtoB

	res, ok := Compute(r, ho)
	require.True(t, ok)
	require.Equal(t, 3, res.IntervalCount)
	assert.Less(t, res.ModelMMs[0], res.ModelMMs[1])
	assert.Less(t, res.ModelMMs[1], res.ModelMMs[2])
	assert.InDelta(t, 500.0, res.ModelMMs[0], 1.0)
	assert.InDelta(t, 1000.0, res.ModelMMs[1], 1.0)
	assert.InDelta(t, 2000.0, res.ModelMMs[2], 1.0)

	mean := (res.ScaleMPH[0] + res.ScaleMPH[1] + res.ScaleMPH[2]) / 3
	assert.InDelta(t, mean, res.AverageMPH, 1e-9)

	distanceOverTime := mph(300 / 0.35)
	assert.NotEqual(t, math.Round(distanceOverTime*10), math.Round(res.AverageMPH*10))
}

func TestScaleFactorSanity(t *testing.T) {
	res, ok := Compute(uniform(4, 1_000_000, 100_000, pass.AtoB), ho)
	require.True(t, ok)
	assert.InDelta(t, 194.7, res.AverageMPH, 1.0)
}

func TestUnknownDirectionUsesTiming(t *testing.T) {
	// Partial pass over the middle sensors heading toward A.
	var r pass.Record
	r.Reset(4)
	r.Mark(2, 1_000_000)
	r.Mark(1, 1_200_000)

	res, ok := Compute(r, ho)
	require.True(t, ok)
	assert.Equal(t, []uint32{200_000}, res.Intervals())
}

func TestWrapAround(t *testing.T) {
	rec := uniform(4, math.MaxUint32-250_000, 200_000, pass.AtoB)
	res, ok := Compute(rec, ho)
	require.True(t, ok)
	assert.Equal(t, []uint32{200_000, 200_000, 200_000}, res.Intervals())
}

func TestMPHPerMMPerSec(t *testing.T) {
	assert.InDelta(t, 0.19484, MPHPerMMPerSec(87.1), 1e-5)
	assert.InDelta(t, MPHPerMMPerSec(160)*2, MPHPerMMPerSec(320), 1e-12)
}

func TestDeterministic(t *testing.T) {
	rec := uniform(8, 123_456, 77_777, pass.BtoA)
	a, _ := Compute(rec, ho)
	b, _ := Compute(rec, ho)
	assert.Equal(t, a, b)
}

// Generated passes over random geometries: a complete, evenly spaced pass
// yields N-1 equal intervals at the analytic speed, and its mirror image
// gives the same average.
func TestUniformPassProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for iter := 0; iter < 500; iter++ {
		n := 2 + rng.IntN(pass.MaxSensors-1)
		geom := pass.Geometry{
			SensorCount: n,
			SpacingMM:   10 + rng.Float64()*490,
			ScaleFactor: 20 + rng.Float64()*200,
		}
		dt := uint32(1_000 + rng.IntN(2_000_000))
		t0 := rng.Uint32()

		ab, ok := Compute(uniform(n, t0, dt, pass.AtoB), geom)
		require.True(t, ok)
		require.Equal(t, n-1, ab.IntervalCount)

		want := geom.SpacingMM / (float64(dt) / 1e6) * MPHPerMMPerSec(geom.ScaleFactor)
		for _, v := range ab.ScaleSpeeds() {
			require.InDelta(t, want, v, want*1e-9)
		}

		ba, ok := Compute(uniform(n, t0, dt, pass.BtoA), geom)
		require.True(t, ok)
		require.Equal(t, ab.IntervalCount, ba.IntervalCount)
		require.InDelta(t, ab.AverageMPH, ba.AverageMPH, want*1e-9)
	}
}

func TestTooFewTriggersProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.IntN(pass.MaxSensors)
		var r pass.Record
		r.Reset(n)
		if rng.IntN(2) == 1 {
			r.Mark(rng.IntN(n), rng.Uint32())
		}
		r.Direction = pass.Direction(rng.IntN(3))
		res, ok := Compute(r, ho)
		require.False(t, ok)
		require.Zero(t, res.IntervalCount)
	}
}

func TestWriteReport(t *testing.T) {
	rec := uniform(4, 1_000_000, 200_000, pass.AtoB)
	rec.Triggered[2] = false
	rec.TriggeredCount--
	res, _ := Compute(rec, ho)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, rec, res))
	out := buf.String()
	assert.Contains(t, out, "Direction: A-B")
	assert.Contains(t, out, "Sensors triggered: 3 / 4")
	assert.Contains(t, out, "S2: --")
	assert.Contains(t, out, "S3: 600000 us")
	assert.Contains(t, out, "500.0 mm/s")
	assert.Contains(t, out, "Average: 97.4 scale mph")
}
