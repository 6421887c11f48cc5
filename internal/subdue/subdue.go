// Package subdue evaluates time window and weekday suppression rules.
package subdue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"monitoring/internal/domain"
)

var clockLayouts = []string{
	"3:04:05 PM",
	"3:04 PM",
	"3:04:05PM",
	"3:04PM",
	"15:04:05",
	"15:04",
}

// ParseClock parses a time of day and anchors it on the day of now.
// Params: time-of-day string and reference time (its date and location are used).
// Returns: anchored time or parse error.
func ParseClock(raw string, now time.Time) (time.Time, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	for _, layout := range clockLayouts {
		parsed, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		year, month, day := now.Date()
		return time.Date(year, month, day, parsed.Hour(), parsed.Minute(), parsed.Second(), 0, now.Location()), nil
	}
	return time.Time{}, fmt.Errorf("invalid time of day %q", raw)
}

// Subdued reports whether condition suppresses an action at now.
// Params: subdue condition and current time.
// Returns: true when window or weekday matches and no exception window contains now.
func Subdued(cond domain.SubdueCondition, now time.Time) bool {
	subdued := false
	if cond.HasWindow() && inWindow(cond.Begin, cond.End, now) {
		subdued = true
	}
	if len(cond.Days) > 0 {
		today := strings.ToLower(now.Weekday().String())
		for _, day := range cond.Days {
			if strings.ToLower(strings.TrimSpace(day)) == today {
				subdued = true
				break
			}
		}
	}
	if subdued {
		for _, exception := range cond.Exceptions {
			if inException(exception, now) {
				return false
			}
		}
	}
	return subdued
}

// HandlerSubdued reports whether handler or its check suppresses handling.
// Params: handler, check, and current time.
// Returns: true when handler subdue matches or a non-publisher check subdue matches.
func HandlerSubdued(handler domain.Handler, check domain.Check, now time.Time) bool {
	if handler.Subdue != nil && Subdued(*handler.Subdue, now) {
		return true
	}
	cond, ok := check.Subdue()
	if ok && cond.At != domain.SubdueAtPublisher {
		return Subdued(cond, now)
	}
	return false
}

// PublisherSubdued reports whether check request publishing is suppressed.
// Params: check definition and current time.
// Returns: true only for publisher-scoped subdue rules that currently match.
func PublisherSubdued(check domain.Check, now time.Time) bool {
	cond, ok := check.Subdue()
	if !ok || cond.At != domain.SubdueAtPublisher {
		return false
	}
	return Subdued(cond, now)
}

// Validate checks that every time of day in condition parses.
// Params: subdue condition.
// Returns: first parse error.
func Validate(cond domain.SubdueCondition) error {
	now := time.Now()
	if (cond.Begin == "") != (cond.End == "") {
		return errors.New("subdue requires both begin and end")
	}
	values := []string{cond.Begin, cond.End}
	for _, exception := range cond.Exceptions {
		values = append(values, exception.Begin, exception.End)
	}
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, err := ParseClock(value, now); err != nil {
			return err
		}
	}
	return nil
}

func inWindow(rawBegin, rawEnd string, now time.Time) bool {
	begin, err := ParseClock(rawBegin, now)
	if err != nil {
		return false
	}
	end, err := ParseClock(rawEnd, now)
	if err != nil {
		return false
	}
	if end.Before(begin) {
		if now.Before(end) {
			begin = startOfDay(now)
		} else {
			end = startOfDay(now).Add(24*time.Hour - time.Second)
		}
	}
	return !now.Before(begin) && !now.After(end)
}

func inException(window domain.SubdueWindow, now time.Time) bool {
	begin, err := ParseClock(window.Begin, now)
	if err != nil {
		return false
	}
	end, err := ParseClock(window.End, now)
	if err != nil {
		return false
	}
	return !now.Before(begin) && !now.After(end)
}

func startOfDay(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location())
}
