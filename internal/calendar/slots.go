package calendar

import "time"

// FreeSlots walks the working window of day in hours.Step increments and
// returns every start time where a meeting of the given duration fits
// without overlapping a busy event. Non-work days have no slots.
func FreeSlots(day time.Time, duration time.Duration, busy []Event, hours WorkingHours) []time.Time {
	if duration <= 0 || !hours.IsWorkDay(day) {
		return nil
	}
	step := hours.Step
	if step <= 0 {
		step = 30 * time.Minute
	}

	start, end := hours.Window(day)
	var slots []time.Time
	for cur := start; !cur.Add(duration).After(end); cur = cur.Add(step) {
		slotEnd := cur.Add(duration)
		free := true
		for _, b := range busy {
			if cur.Before(b.EndTime) && slotEnd.After(b.StartTime) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, cur)
		}
	}
	return slots
}
