package subdue

import (
	"testing"
	"time"

	"monitoring/internal/domain"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, time.UTC)
}

func TestSubduedOvernightWindow(t *testing.T) {
	t.Parallel()

	cond := domain.SubdueCondition{Begin: "11:00:00 PM", End: "6:00:00 AM"}
	for _, day := range []int{1, 14, 28} {
		if !Subdued(cond, at(day, 23, 30)) {
			t.Fatalf("day %d: expected 11:30 PM to be subdued", day)
		}
		if !Subdued(cond, at(day, 3, 0)) {
			t.Fatalf("day %d: expected 3:00 AM to be subdued", day)
		}
		if Subdued(cond, at(day, 12, 0)) {
			t.Fatalf("day %d: expected noon not to be subdued", day)
		}
	}
}

func TestSubduedSameDayWindow(t *testing.T) {
	t.Parallel()

	cond := domain.SubdueCondition{Begin: "09:00", End: "17:00"}
	if !Subdued(cond, at(2, 9, 0)) || !Subdued(cond, at(2, 17, 0)) {
		t.Fatalf("expected inclusive window bounds")
	}
	if Subdued(cond, at(2, 8, 59)) || Subdued(cond, at(2, 17, 1)) {
		t.Fatalf("expected times outside window not subdued")
	}
}

func TestSubduedDaysAndExceptions(t *testing.T) {
	t.Parallel()

	// 2026-03-01 is a Sunday.
	cond := domain.SubdueCondition{
		Days:       []string{"Sunday", "saturday"},
		Exceptions: []domain.SubdueWindow{{Begin: "10:00 AM", End: "11:00 AM"}},
	}
	if !Subdued(cond, at(1, 9, 0)) {
		t.Fatalf("expected sunday to be subdued")
	}
	if Subdued(cond, at(1, 10, 30)) {
		t.Fatalf("expected exception window to override subdue")
	}
	if Subdued(cond, at(2, 9, 0)) {
		t.Fatalf("expected monday not subdued")
	}
}

func TestHandlerSubdued(t *testing.T) {
	t.Parallel()

	now := at(2, 12, 0)
	window := map[string]any{"begin": "11:00 AM", "end": "1:00 PM"}
	publisherWindow := map[string]any{"begin": "11:00 AM", "end": "1:00 PM", "at": "publisher"}

	handler := domain.Handler{Name: "mail", Subdue: &domain.SubdueCondition{Begin: "11:00 AM", End: "1:00 PM"}}
	if !HandlerSubdued(handler, domain.Check{}, now) {
		t.Fatalf("expected handler subdue to apply")
	}
	if !HandlerSubdued(domain.Handler{Name: "mail"}, domain.Check{"subdue": window}, now) {
		t.Fatalf("expected check subdue to apply to handlers")
	}
	if HandlerSubdued(domain.Handler{Name: "mail"}, domain.Check{"subdue": publisherWindow}, now) {
		t.Fatalf("expected publisher subdue to be ignored by handlers")
	}
	if !PublisherSubdued(domain.Check{"subdue": publisherWindow}, now) {
		t.Fatalf("expected publisher subdue to gate requests")
	}
	if PublisherSubdued(domain.Check{"subdue": window}, now) {
		t.Fatalf("expected handler-scoped subdue not to gate requests")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate(domain.SubdueCondition{Begin: "11:00 PM", End: "6:00 AM"}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := Validate(domain.SubdueCondition{Begin: "25:99", End: "6:00 AM"}); err == nil {
		t.Fatalf("expected invalid begin error")
	}
	if err := Validate(domain.SubdueCondition{Begin: "11:00 PM"}); err == nil {
		t.Fatalf("expected missing end error")
	}
}
