package eventlog

import (
	"sort"
	"time"
)

// Filter narrows an Entries query. Zero-valued fields match everything.
type Filter struct {
	Level     Level
	Category  Category
	UserID    string
	IPAddress string
	Start     time.Time
	End       time.Time
	Limit     int
}

func (f Filter) matches(e Entry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	return true
}

// Entries returns matching events newest-first.
func (l *Log) Entries(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !f.matches(l.entries[i]) {
			continue
		}
		e := l.entries[i]
		e.Metadata = copyMetadata(e.Metadata)
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// AlertFilter narrows an Alerts query. Zero-valued fields match everything;
// Resolved is a tri-state pointer so false can be queried explicitly.
type AlertFilter struct {
	Severity Severity
	Type     string
	Resolved *bool
	Limit    int
}

func (f AlertFilter) matches(a Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	return true
}

// Alerts returns matching alerts newest-first.
func (l *Log) Alerts(f AlertFilter) []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Alert, 0)
	for i := len(l.alerts) - 1; i >= 0; i-- {
		if !f.matches(l.alerts[i]) {
			continue
		}
		a := l.alerts[i]
		a.Metadata = copyMetadata(a.Metadata)
		out = append(out, a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// CategoryCount pairs a category with an event count.
type CategoryCount struct {
	Category Category
	Count    int
}

// Metrics aggregates the buffered events inside a trailing time range.
type Metrics struct {
	TotalEvents    int
	ByLevel        map[Level]int
	ByCategory     map[Category]int
	UniqueUsers    int
	UniqueIPs      int
	MeanRiskScore  float64
	CriticalEvents int

	// TopRiskCategories is up to five categories ranked by their count of
	// events scoring above 50.
	TopRiskCategories []CategoryCount
}

// GetMetrics aggregates events whose timestamp falls within the trailing
// timeRange. A zero timeRange aggregates the whole buffer.
func (l *Log) GetMetrics(timeRange time.Duration) Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cutoff time.Time
	if timeRange > 0 {
		cutoff = time.Now().Add(-timeRange)
	}

	m := Metrics{
		ByLevel:    make(map[Level]int),
		ByCategory: make(map[Category]int),
	}
	users := make(map[string]struct{})
	ips := make(map[string]struct{})
	risky := make(map[Category]int)
	scoreSum := 0

	for _, e := range l.entries {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		m.TotalEvents++
		m.ByLevel[e.Level]++
		m.ByCategory[e.Category]++
		scoreSum += e.RiskScore
		if e.Level == LevelCritical {
			m.CriticalEvents++
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}
		if e.RiskScore > 50 {
			risky[e.Category]++
		}
	}

	m.UniqueUsers = len(users)
	m.UniqueIPs = len(ips)
	if m.TotalEvents > 0 {
		m.MeanRiskScore = float64(scoreSum) / float64(m.TotalEvents)
	}

	top := make([]CategoryCount, 0, len(risky))
	for cat, count := range risky {
		top = append(top, CategoryCount{Category: cat, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Category < top[j].Category
	})
	if len(top) > 5 {
		top = top[:5]
	}
	m.TopRiskCategories = top

	return m
}
