package agenda

import "strings"

// DayBuckets groups a day's appointments under their slot label. Every
// configured slot is present in the result even when empty, so the caller can
// render free-slot affordances. An appointment whose start time matches no
// configured slot is still kept under its literal time key: grid drift must
// not silently drop records.
func DayBuckets(slots []TimeSlot, appointments []Appointment, f Filters) map[string][]Appointment {
	buckets := make(map[string][]Appointment, len(slots))
	for _, s := range slots {
		buckets[s.Label] = []Appointment{}
	}
	for _, a := range appointments {
		if !matchesFilters(a, f) {
			continue
		}
		key := normalizeClock(a.StartTime)
		buckets[key] = append(buckets[key], a)
	}
	return buckets
}

// WeekMatrix is DayBuckets per day. Days not in the requested list but
// present in the data keep their own row, with the same no-drop guarantee.
func WeekMatrix(days []string, slots []TimeSlot, appointments []Appointment, f Filters) map[string]map[string][]Appointment {
	matrix := make(map[string]map[string][]Appointment, len(days))
	for _, d := range days {
		row := make(map[string][]Appointment, len(slots))
		for _, s := range slots {
			row[s.Label] = []Appointment{}
		}
		matrix[d] = row
	}
	for _, a := range appointments {
		if !matchesFilters(a, f) {
			continue
		}
		row, ok := matrix[a.Date]
		if !ok {
			row = make(map[string][]Appointment, len(slots))
			matrix[a.Date] = row
		}
		key := normalizeClock(a.StartTime)
		row[key] = append(row[key], a)
	}
	return matrix
}

// Bucket order is arrival order; the clinic service returns a stable listing
// and the client does not re-sort.
func matchesFilters(a Appointment, f Filters) bool {
	if f.Text != "" && !strings.Contains(foldText(a.PatientName), foldText(f.Text)) {
		return false
	}
	if f.Status != "" && !statusMatches(a.Status, f.Status) {
		return false
	}
	return true
}
