package domain

// SubdueWindow is one exception window inside a subdue condition.
type SubdueWindow struct {
	Begin string
	End   string
}

// SubdueCondition is a time window/day rule suppressing an action.
// Params: optional begin/end times of day, weekday names, exception windows, and scope.
// Returns: condition evaluated by the subdue package.
type SubdueCondition struct {
	Begin      string
	End        string
	Days       []string
	Exceptions []SubdueWindow
	At         string
}

// HasWindow reports whether both window bounds are configured.
func (c SubdueCondition) HasWindow() bool {
	return c.Begin != "" && c.End != ""
}

// SubdueConditionFrom builds condition from decoded attributes.
// Params: subdue attribute map.
// Returns: typed subdue condition (unknown keys ignored).
func SubdueConditionFrom(raw Attributes) SubdueCondition {
	cond := SubdueCondition{Days: raw.Strings("days")}
	cond.Begin, _ = raw.String("begin")
	cond.End, _ = raw.String("end")
	cond.At, _ = raw.String("at")
	if list, ok := raw["exceptions"].([]any); ok {
		for _, item := range list {
			window, ok := AsAttributes(item)
			if !ok {
				continue
			}
			begin, _ := window.String("begin")
			end, _ := window.String("end")
			cond.Exceptions = append(cond.Exceptions, SubdueWindow{Begin: begin, End: end})
		}
	}
	if list, ok := raw["exceptions"].([]map[string]any); ok {
		for _, window := range list {
			begin, _ := Attributes(window).String("begin")
			end, _ := Attributes(window).String("end")
			cond.Exceptions = append(cond.Exceptions, SubdueWindow{Begin: begin, End: end})
		}
	}
	return cond
}
