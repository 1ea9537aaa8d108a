package bot

import (
	"fmt"
	"time"
)

// Appointment picking is a two-step keyboard flow shared by the master
// accept path and both counter-proposal paths: pick a day (today, tomorrow,
// or a calendar date), then pick an hour. Past instants never transition;
// the same keyboard is re-rendered with a nudge instead.

const (
	firstHour = 7
	lastHour  = 21
)

// dayKeyboard offers today/tomorrow shortcuts plus the month calendar.
func dayKeyboard(orderID uint, now time.Time) [][]Button {
	id := itoa(orderID)
	today := now.Format("2006-01-02")
	tomorrow := now.AddDate(0, 0, 1).Format("2006-01-02")
	month := now.Format("2006-01")
	return [][]Button{
		Row(Btn("Today", arg(cbDay, id, today)), Btn("Tomorrow", arg(cbDay, id, tomorrow))),
		Row(Btn("Pick a date", arg(cbCalendar, id, month))),
	}
}

// calendarKeyboard renders a month grid. Days already past are rendered but
// rejected at selection time, keeping the grid layout stable.
func calendarKeyboard(orderID uint, month time.Time) [][]Button {
	id := itoa(orderID)
	year, m, _ := month.Date()
	loc := month.Location()
	first := time.Date(year, m, 1, 0, 0, 0, 0, loc)
	daysInMonth := first.AddDate(0, 1, -1).Day()

	rows := [][]Button{
		Row(Btn(first.Format("January 2006"), "noop")),
	}

	var row []Button
	for d := 1; d <= daysInMonth; d++ {
		date := time.Date(year, m, d, 0, 0, 0, 0, loc).Format("2006-01-02")
		row = append(row, Btn(fmt.Sprintf("%d", d), arg(cbDay, id, date)))
		if len(row) == 7 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	prev := first.AddDate(0, -1, 0).Format("2006-01")
	next := first.AddDate(0, 1, 0).Format("2006-01")
	rows = append(rows, Row(
		Btn("<", arg(cbCalendar, id, prev)),
		Btn(">", arg(cbCalendar, id, next)),
	))
	return rows
}

// hourKeyboard offers working hours for the chosen day, five per row.
func hourKeyboard(orderID uint) [][]Button {
	id := itoa(orderID)
	var rows [][]Button
	var row []Button
	for h := firstHour; h <= lastHour; h++ {
		row = append(row, Btn(fmt.Sprintf("%02d:00", h), arg(cbHour, id, fmt.Sprintf("%d", h))))
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// parseDay parses a "2006-01-02" day payload in loc.
func parseDay(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", value, loc)
}

// parseMonth parses a "2006-01" month payload in loc.
func parseMonth(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01", value, loc)
}

// instantFor combines a chosen day and hour in loc.
func instantFor(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}
