// Package sample accumulates raw sensor readings and produces integer
// means over a configured window.
package sample

// Aggregator holds the running sums for one report window. It is owned
// and driven by the session machine inside a single execution context,
// so it carries no locking; ordering alone keeps it consistent.
type Aggregator struct {
	co2Sum  int64
	tempSum int64
	count   int
}

// Add appends one reading to the window.
func (a *Aggregator) Add(co2, temp int) {
	a.co2Sum += int64(co2)
	a.tempSum += int64(temp)
	a.count++
}

// Count reports how many samples the window currently holds.
func (a *Aggregator) Count() int {
	return a.count
}

// Full reports whether at least target samples have accumulated.
func (a *Aggregator) Full(target int) bool {
	return a.count >= target
}

// DrainMean returns the integer means over the accumulated samples and
// clears the window. The caller drains only when Full reports true, so
// the count is normally at least one; draining an empty window returns
// zeros rather than dividing.
func (a *Aggregator) DrainMean() (co2Mean, tempMean int) {
	if a.count > 0 {
		co2Mean = int(a.co2Sum / int64(a.count))
		tempMean = int(a.tempSum / int64(a.count))
	}
	a.co2Sum, a.tempSum, a.count = 0, 0, 0
	return co2Mean, tempMean
}
