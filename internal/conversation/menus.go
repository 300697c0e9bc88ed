package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/cityhospital/appointment-bot/internal/doctors"
	"github.com/cityhospital/appointment-bot/internal/scheduling"
)

func (e *Engine) mainMenu(t *turn) Reply {
	name := t.sess.Scratch.PatientName
	if name == "" {
		name = "there"
	}
	return ButtonsReply(
		fmt.Sprintf("Hello %s! Welcome to %s. How can we help you today?", name, e.hospital),
		Button{ID: ActionBook, Title: "Book Appointment"},
		Button{ID: ActionReschedule, Title: "Reschedule"},
		Button{ID: ActionCancel, Title: "Cancel Appointment"},
	)
}

func (e *Engine) specializationMenu(ctx context.Context) ([]Reply, error) {
	specs, err := e.doctors.Specializations(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation: list specializations: %w", err)
	}
	if len(specs) == 0 {
		return []Reply{TextReply("Sorry, no departments are taking appointments right now.")}, nil
	}
	rows := make([]Row, 0, len(specs))
	for _, s := range specs {
		rows = append(rows, Row{ID: prefixSpecialization + s, Title: truncate(s, 24)})
	}
	return SplitList(ListSpec{
		Header:       "Choose Department",
		Body:         "Select the type of care you need:",
		ButtonText:   "View Departments",
		SectionTitle: "Our Departments",
		Noun:         "Departments",
		MoreHeader:   "More Departments",
	}, rows), nil
}

func (e *Engine) bookableDoctors(ctx context.Context, specialization string) ([]doctors.Doctor, error) {
	list, err := e.doctors.ListBySpecialization(ctx, specialization)
	if err != nil {
		return nil, fmt.Errorf("conversation: list doctors: %w", err)
	}
	out := list[:0]
	for _, d := range list {
		if d.Status == doctors.StatusOnLeave {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (e *Engine) doctorMenu(ctx context.Context, specialization string) ([]Reply, error) {
	list, err := e.bookableDoctors(ctx, specialization)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Reply{TextReply("Sorry, no %s doctors are available right now.", specialization)}, nil
	}
	return e.renderDoctors(specialization, list), nil
}

func (e *Engine) renderDoctors(specialization string, list []doctors.Doctor) []Reply {
	rows := make([]Row, 0, len(list))
	for _, d := range list {
		rows = append(rows, Row{
			ID:          d.ID,
			Title:       truncate(d.Name, 24),
			Description: truncate(fmt.Sprintf("%s | %d min slots", d.Hours(), d.SlotMinutes), 72),
		})
	}
	return SplitList(ListSpec{
		Header:       "Select Doctor",
		Body:         fmt.Sprintf("Available %s doctors:", specialization),
		ButtonText:   "View Doctors",
		SectionTitle: specialization,
		Noun:         "Doctors",
		MoreHeader:   "More Doctors",
	}, rows)
}

func (e *Engine) workingDates(doc doctors.Doctor) []time.Time {
	return scheduling.WorkingDates(doc, e.clock(), dateMenuSize, dateMenuLookahead)
}

// dateMenu lists the doctor's next working dates; it is empty when there are none.
func (e *Engine) dateMenu(doc doctors.Doctor) []Reply {
	dates := e.workingDates(doc)
	if len(dates) == 0 {
		return nil
	}
	rows := make([]Row, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, Row{
			ID:          prefixDate + d.Format(scheduling.DateLayout),
			Title:       d.Format(dateTitleLayout),
			Description: "Available to book",
		})
	}
	return SplitList(ListSpec{
		Header:       "Select Date",
		Body:         fmt.Sprintf("Booking for %s:", doc.Name),
		ButtonText:   "View Dates",
		SectionTitle: "Available Dates",
		Noun:         "Dates",
	}, rows)
}

func (e *Engine) timeMenu(doc doctors.Doctor, date string, slots []string) []Reply {
	rows := make([]Row, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, Row{
			ID:          prefixTime + s,
			Title:       formatClock12h(s),
			Description: fmt.Sprintf("Duration: %d minutes", doc.SlotMinutes),
		})
	}
	return SplitList(ListSpec{
		Header:     "Select Time",
		Body:       fmt.Sprintf("Available slots for %s on %s:", doc.Name, formatLongDate(date)),
		ButtonText: "View Times",
		Noun:       "Slots",
		MoreHeader: "More Times",
		MoreBody:   "More available slots:",
	}, rows)
}
