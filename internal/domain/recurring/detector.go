package recurring

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/echo-ingest/internal/domain/import/merchant"
)

const day = 24 * time.Hour

var (
	groupDigitRun  = regexp.MustCompile(`\d{4,}`)
	groupPunct     = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	groupCorporate = regexp.MustCompile(`\b(inc|llc|ltd|corp|co|com|net|org|gmbh|plc|sa|bv)\b`)
)

// Detector finds recurring patterns. It holds no state between runs and is safe for
// concurrent use.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective thresholds.
func (d *Detector) Config() Config {
	return d.cfg
}

// groupKey is a deliberately light normalization: it must keep distinct merchants
// apart while folding reference-number noise together.
func groupKey(description string) string {
	s := strings.ToLower(description)
	s = groupDigitRun.ReplaceAllString(s, " ")
	s = groupPunct.ReplaceAllString(s, " ")
	s = groupCorporate.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Detect runs over a user's full history and returns one pattern per surviving
// amount cluster, ordered by merchant then amount. now drives the cancellation status.
func (d *Detector) Detect(txs []Transaction, now time.Time) []RecurringPattern {
	sorted := make([]Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	groups := map[string][]Transaction{}
	var order []string
	for _, tx := range sorted {
		key := groupKey(tx.Description)
		if key == "" || tx.AmountCents <= 0 {
			continue
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tx)
	}

	var patterns []RecurringPattern
	for _, key := range order {
		members := groups[key]
		if len(members) < d.cfg.MinOccurrences || d.isHabitual(members) {
			continue
		}
		for _, cluster := range d.clusterByAmount(members) {
			if p, ok := d.patternFor(key, cluster, now); ok {
				patterns = append(patterns, p)
			}
		}
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].MerchantName != patterns[j].MerchantName {
			return patterns[i].MerchantName < patterns[j].MerchantName
		}
		return patterns[i].AverageAmountCents < patterns[j].AverageAmountCents
	})
	return patterns
}

// isHabitual reports frequent, variable spending such as coffee or groceries.
// members must be date-sorted.
func (d *Detector) isHabitual(members []Transaction) bool {
	n := len(members)
	if n < d.cfg.HabitualMinCount {
		return false
	}
	spanDays := members[n-1].Date.Sub(members[0].Date).Hours() / 24
	if spanDays < 1 {
		spanDays = 1
	}
	if float64(n)/spanDays*30 <= d.cfg.HabitualMonthlyRate {
		return false
	}

	var sum float64
	for _, m := range members {
		sum += float64(m.AmountCents)
	}
	mean := sum / float64(n)
	var sq float64
	for _, m := range members {
		diff := float64(m.AmountCents) - mean
		sq += diff * diff
	}
	cv := math.Sqrt(sq/float64(n)) / mean
	return cv > d.cfg.HabitualMaxCV
}

// clusterByAmount groups amounts in a single ascending pass, joining the current
// cluster while an amount stays within tolerance of its running mean. Each cluster
// is returned in date order.
func (d *Detector) clusterByAmount(members []Transaction) [][]Transaction {
	byAmount := make([]Transaction, len(members))
	copy(byAmount, members)
	sort.SliceStable(byAmount, func(i, j int) bool { return byAmount[i].AmountCents < byAmount[j].AmountCents })

	var clusters [][]Transaction
	var current []Transaction
	var sum float64
	for _, tx := range byAmount {
		amount := float64(tx.AmountCents)
		if len(current) > 0 {
			mean := sum / float64(len(current))
			if math.Abs(amount-mean) <= d.cfg.AmountTolerance*mean {
				current = append(current, tx)
				sum += amount
				continue
			}
			clusters = append(clusters, current)
		}
		current = []Transaction{tx}
		sum = amount
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}

	for _, c := range clusters {
		sort.SliceStable(c, func(i, j int) bool { return c[i].Date.Before(c[j].Date) })
	}
	return clusters
}

func (d *Detector) patternFor(key string, cluster []Transaction, now time.Time) (RecurringPattern, bool) {
	if len(cluster) < d.cfg.MinOccurrences {
		return RecurringPattern{}, false
	}

	var gaps []float64
	for i := 1; i < len(cluster); i++ {
		g := cluster[i].Date.Sub(cluster[i-1].Date).Hours() / 24
		if g > 0 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return RecurringPattern{}, false
	}
	var total float64
	for _, g := range gaps {
		total += g
	}
	meanGap := total / float64(len(gaps))
	for _, g := range gaps {
		if math.Abs(g-meanGap) > d.cfg.IntervalTolerance*meanGap {
			return RecurringPattern{}, false
		}
	}

	freq, ok := ClassifyFrequency(meanGap)
	if !ok {
		return RecurringPattern{}, false
	}

	first, last := cluster[0], cluster[len(cluster)-1]
	var sum int64
	ids := make([]uuid.UUID, len(cluster))
	for i, tx := range cluster {
		sum += tx.AmountCents
		ids[i] = tx.ID
	}
	avg := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(cluster)))).Round(0).IntPart()

	status := StatusActive
	sinceLast := now.Sub(last.Date).Hours() / 24
	if sinceLast > d.cfg.CancelledAfterGaps*meanGap {
		status = StatusPossiblyCancelled
	}

	display := merchant.Clean(last.Description).DisplayName
	if display == "" {
		display = key
	}

	return RecurringPattern{
		MerchantName:       key,
		Frequency:          freq,
		AverageAmountCents: avg,
		LastAmountCents:    last.AmountCents,
		FirstDate:          first.Date,
		LastDate:           last.Date,
		NextExpectedDate:   last.Date.Add(time.Duration(math.Round(meanGap)) * day),
		TransactionIDs:     ids,
		Category:           dominantCategory(cluster),
		Status:             status,
		Description:        describe(display, freq, avg),
	}, true
}

// dominantCategory picks the most common non-empty category, preferring the most
// recent one on ties.
func dominantCategory(cluster []Transaction) string {
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, tx := range cluster {
		if tx.Category == "" {
			continue
		}
		counts[tx.Category]++
		if counts[tx.Category] >= bestCount {
			best, bestCount = tx.Category, counts[tx.Category]
		}
	}
	return best
}

func describe(display string, freq Frequency, avgCents int64) string {
	return fmt.Sprintf("%s %s payment of about %s", display, strings.ToLower(string(freq)), decimal.New(avgCents, -2).StringFixed(2))
}
