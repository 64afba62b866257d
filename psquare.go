// psquare.go implements streaming percentile tracking for dispatch
// latency: Jain & Chlamtac's P² algorithm, which updates and retrieves an
// estimated quantile in O(1) without retaining samples.
package osal

import "math"

// quantileMarker tracks a single target quantile via the P² algorithm's
// five markers (min, two interpolation points either side of the target,
// and max). Not safe for concurrent use; callers serialize access.
type quantileMarker struct {
	target float64 // quantile in [0,1], e.g. 0.99 for p99

	height   [5]float64 // marker heights (observed values)
	pos      [5]int     // marker positions (integer, 0-indexed)
	desired  [5]float64 // desired marker positions (float, idealized)
	posStep  [5]float64 // per-observation increment to desired
	warmup   [5]float64 // buffers the first 5 observations before the markers settle
	seen     int
	settled  bool
}

func newQuantileMarker(target float64) *quantileMarker {
	switch {
	case target < 0:
		target = 0
	case target > 1:
		target = 1
	}
	return &quantileMarker{
		target:  target,
		posStep: [5]float64{0, target / 2, target, (1 + target) / 2, 1},
	}
}

// observe folds x into the estimate. O(1).
func (m *quantileMarker) observe(x float64) {
	m.seen++

	if m.seen <= 5 {
		m.warmup[m.seen-1] = x
		if m.seen == 5 {
			m.settle()
		}
		return
	}

	var cell int
	switch {
	case x < m.height[0]:
		m.height[0] = x
		cell = 0
	case x >= m.height[4]:
		m.height[4] = x
		cell = 3
	default:
		for cell = 0; cell < 4; cell++ {
			if m.height[cell] <= x && x < m.height[cell+1] {
				break
			}
		}
	}

	for i := cell + 1; i < 5; i++ {
		m.pos[i]++
	}
	for i := 0; i < 5; i++ {
		m.desired[i] += m.posStep[i]
	}

	for i := 1; i < 4; i++ {
		d := m.desired[i] - float64(m.pos[i])
		if (d >= 1 && m.pos[i+1]-m.pos[i] > 1) || (d <= -1 && m.pos[i-1]-m.pos[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}

			adjusted := m.parabolic(i, sign)
			if m.height[i-1] < adjusted && adjusted < m.height[i+1] {
				m.height[i] = adjusted
			} else {
				m.height[i] = m.linear(i, sign)
			}
			m.pos[i] += sign
		}
	}
}

// settle initializes the five markers from the first five observations.
func (m *quantileMarker) settle() {
	for i := 1; i < 5; i++ {
		key := m.warmup[i]
		j := i - 1
		for j >= 0 && m.warmup[j] > key {
			m.warmup[j+1] = m.warmup[j]
			j--
		}
		m.warmup[j+1] = key
	}

	for i := 0; i < 5; i++ {
		m.height[i] = m.warmup[i]
		m.pos[i] = i
	}
	m.desired = [5]float64{0, 2 * m.target, 4 * m.target, 2 + 2*m.target, 4}
	m.settled = true
}

func (m *quantileMarker) parabolic(i, d int) float64 {
	df := float64(d)
	cur := float64(m.pos[i])
	prev := float64(m.pos[i-1])
	next := float64(m.pos[i+1])

	a := df / (next - prev)
	b := (cur - prev + df) * (m.height[i+1] - m.height[i]) / (next - cur)
	c := (next - cur - df) * (m.height[i] - m.height[i-1]) / (cur - prev)
	return m.height[i] + a*(b+c)
}

func (m *quantileMarker) linear(i, d int) float64 {
	if d == 1 {
		return m.height[i] + (m.height[i+1]-m.height[i])/float64(m.pos[i+1]-m.pos[i])
	}
	return m.height[i] - (m.height[i]-m.height[i-1])/float64(m.pos[i]-m.pos[i-1])
}

// value returns the current quantile estimate. Below 5 observations it
// falls back to an exact sort, since the marker algorithm needs a full
// warmup buffer to initialize.
func (m *quantileMarker) value() float64 {
	if m.seen == 0 {
		return 0
	}
	if m.seen < 5 {
		sorted := make([]float64, m.seen)
		copy(sorted, m.warmup[:m.seen])
		for i := 1; i < m.seen; i++ {
			key := sorted[i]
			j := i - 1
			for j >= 0 && sorted[j] > key {
				sorted[j+1] = sorted[j]
				j--
			}
			sorted[j+1] = key
		}
		idx := int(float64(m.seen-1) * m.target)
		if idx >= m.seen {
			idx = m.seen - 1
		}
		return sorted[idx]
	}
	return m.height[2]
}

func (m *quantileMarker) max() float64 {
	if m.seen == 0 {
		return 0
	}
	if m.seen < 5 {
		hi := m.warmup[0]
		for i := 1; i < m.seen; i++ {
			if m.warmup[i] > hi {
				hi = m.warmup[i]
			}
		}
		return hi
	}
	return m.height[4]
}

// dispatchLatencyPercentiles tracks p50/p90/p95/p99 and the running
// sum/max of task dispatch latency, one quantileMarker per percentile.
// Not safe for concurrent use; LatencyMetrics guards it with a mutex.
type dispatchLatencyPercentiles struct {
	markers [4]*quantileMarker // p50, p90, p95, p99
	sum     float64
	count   int
	max     float64
}

func newDispatchLatencyPercentiles() *dispatchLatencyPercentiles {
	return &dispatchLatencyPercentiles{
		markers: [4]*quantileMarker{
			newQuantileMarker(0.50),
			newQuantileMarker(0.90),
			newQuantileMarker(0.95),
			newQuantileMarker(0.99),
		},
		max: -math.MaxFloat64,
	}
}

func (d *dispatchLatencyPercentiles) observe(x float64) {
	d.count++
	d.sum += x
	if x > d.max {
		d.max = x
	}
	for _, m := range d.markers {
		m.observe(x)
	}
}

func (d *dispatchLatencyPercentiles) p50() float64 { return d.markers[0].value() }
func (d *dispatchLatencyPercentiles) p90() float64 { return d.markers[1].value() }
func (d *dispatchLatencyPercentiles) p95() float64 { return d.markers[2].value() }
func (d *dispatchLatencyPercentiles) p99() float64 { return d.markers[3].value() }

func (d *dispatchLatencyPercentiles) maxObserved() float64 {
	if d.count == 0 {
		return 0
	}
	return d.max
}

func (d *dispatchLatencyPercentiles) mean() float64 {
	if d.count == 0 {
		return 0
	}
	return d.sum / float64(d.count)
}
