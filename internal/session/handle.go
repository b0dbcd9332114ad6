package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"hwplanner/internal/dates"
	"hwplanner/internal/engine"
	appLog "hwplanner/internal/log"
	"hwplanner/internal/model"
)

// Buttons of the main menu and of the fixed-choice steps.
const (
	ButtonToday    = "Today"
	ButtonTomorrow = "Tomorrow"
	ButtonWeek     = "Week"
	ButtonHomework = "Homework"
	ButtonDelete   = "Delete"

	ButtonYes = "Yes"
	ButtonNo  = "No"

	ButtonNextLesson = "Next lesson"
	ButtonForLesson  = "For the lesson"
	ButtonForDay     = "By the end of the day"
)

// MainMenu is shown whenever the conversation returns to Idle.
var MainMenu = [][]string{
	{ButtonToday, ButtonTomorrow, ButtonWeek},
	{ButtonHomework, ButtonDelete},
}

const (
	textWelcome = "Welcome to Homework Planning Bot!\n" +
		"It can monitor all your homework and notify you about your deadlines.\n" +
		"For more information type /info."
	textInfo = "To give bot your schedule send it an Excel file (.xlsx or .xls).\n" +
		"Homework adds an assignment, Delete removes one.\n" +
		"Type cancel at any step to start over."
	textNotUnderstood   = "Bot couldn't understand you."
	textIncorrect       = "Incorrect response. Please choose one of the options."
	textCancelled       = "Cancelled."
	textUnsupportedFile = "Unsupported file type."
	textConfirmImport   = "Are you sure you want to change your schedule?\n" +
		"This will delete all your recorded homework."
	textScheduleSet       = "New schedule successfully set."
	textScheduleKept      = "Schedule wasn't changed."
	textChooseSubject     = "Choose the subject."
	textChooseDeadline    = "When is it due? Choose an option or type a date as DD.MM."
	textChoosePlacement   = "The subject has a lesson on that day. Is the homework for the lesson or for the end of the day?"
	textWriteDescription  = "Write homework description."
	textEmptyDescription  = "Error: Empty description."
	textNoLessonAhead     = "There is no lesson of this subject in the coming days. Choose a date instead."
	textRosterChanged     = "Your schedule has changed. Choose the subject again."
	textNoHomework        = "No homework recorded."
	textNoHomeworkThatDay = "No homework recorded for that day."
	textChooseDate        = "Choose the date."
	textChooseEntry       = "Choose the homework to delete."
	textDeleted           = "Homework deleted."
	textAlreadyGone       = "That homework is already gone."
	textScheduleNotFound  = "Error: Schedule not found.\nPlease set your schedule before requesting it."
	textUnexpected        = "Error: something went wrong, please try again later."
)

var (
	deadlineKeyboard  = [][]string{{ButtonNextLesson}, {ButtonToday, ButtonTomorrow}}
	placementKeyboard = [][]string{{ButtonForLesson}, {ButtonForDay}}
	confirmKeyboard   = [][]string{{ButtonYes, ButtonNo}}
)

type handler struct {
	planner Planner
	s       *Session
}

func (h handler) handle(ctx context.Context, msg Message) []Reply {
	if msg.Document != nil || msg.FileName != "" {
		return h.document(msg)
	}
	text := strings.TrimSpace(msg.Text)
	if strings.EqualFold(text, "cancel") || text == "/cancel" {
		h.s.reset()
		return menu(textCancelled)
	}

	switch h.s.State {
	case AwaitingSubject:
		return h.subject(ctx, text)
	case AwaitingDeadline:
		return h.deadline(ctx, text)
	case AwaitingPlacement:
		return h.placement(ctx, text)
	case AwaitingDescription:
		return h.description(ctx, text)
	case AwaitingImportConfirm:
		return h.importConfirm(ctx, text)
	case AwaitingDeleteDate:
		return h.deleteDate(ctx, text)
	case AwaitingDeleteEntry:
		return h.deleteEntry(ctx, text)
	default:
		return h.command(ctx, text)
	}
}

func (h handler) command(ctx context.Context, text string) []Reply {
	uid := h.s.UserID
	switch strings.ToLower(text) {
	case "/start":
		return menu(textWelcome)
	case "/info", "/help":
		return menu(textInfo)
	case "today":
		return h.day(ctx, h.planner.Today())
	case "tomorrow":
		return h.day(ctx, h.planner.Today()+1)
	case "week":
		days, err := h.planner.GetWeekSchedule(ctx, uid, h.planner.Today())
		if err != nil {
			return h.fail(err)
		}
		out := make([]Reply, 0, len(days))
		for _, d := range days {
			out = append(out, Reply{Text: d, HTML: true})
		}
		return out
	case "homework":
		return h.startHomework(ctx)
	case "delete":
		return h.startDelete(ctx)
	default:
		return menu(textNotUnderstood)
	}
}

func (h handler) day(ctx context.Context, d model.Date) []Reply {
	text, err := h.planner.GetDaySchedule(ctx, h.s.UserID, d)
	if err != nil {
		return h.fail(err)
	}
	return []Reply{{Text: text, HTML: true}}
}

func (h handler) document(msg Message) []Reply {
	h.s.reset()
	switch strings.ToLower(filepath.Ext(msg.FileName)) {
	case ".xlsx", ".xls":
	default:
		return menu(textUnsupportedFile)
	}
	if len(msg.Document) == 0 {
		return menu(textUnsupportedFile)
	}
	h.s.pendingFile = msg.Document
	h.s.State = AwaitingImportConfirm
	return ask(textConfirmImport, confirmKeyboard)
}

func (h handler) importConfirm(ctx context.Context, text string) []Reply {
	switch strings.ToLower(text) {
	case "yes":
		data := h.s.pendingFile
		h.s.reset()
		if err := h.planner.ImportSchedule(ctx, h.s.UserID, data); err != nil {
			return h.fail(err)
		}
		return menu(textScheduleSet)
	case "no":
		h.s.reset()
		return menu(textScheduleKept)
	default:
		return ask(textIncorrect, confirmKeyboard)
	}
}

func (h handler) startHomework(ctx context.Context) []Reply {
	names, version, err := h.planner.ListSubjects(ctx, h.s.UserID)
	if err != nil {
		return h.fail(err)
	}
	h.s.subjects = names
	h.s.rosterVersion = version
	h.s.State = AwaitingSubject
	return ask(textChooseSubject, column(names))
}

func (h handler) subject(ctx context.Context, text string) []Reply {
	for i, name := range h.s.subjects {
		if name == text {
			h.s.subject = i
			h.s.placement = model.PlacementUnset
			h.s.State = AwaitingDeadline
			return ask(textChooseDeadline, deadlineKeyboard)
		}
	}
	return ask(textIncorrect, column(h.s.subjects))
}

func (h handler) deadline(ctx context.Context, text string) []Reply {
	ambiguous, err := h.planner.IsAmbiguous(ctx, h.s.UserID, h.s.subject, text)
	if err != nil {
		var md *model.MalformedDateError
		if errors.As(err, &md) {
			return ask(dateErrorText(md), deadlineKeyboard)
		}
		return h.fail(err)
	}
	h.s.deadline = text
	h.s.placement = model.PlacementUnset
	if ambiguous {
		h.s.State = AwaitingPlacement
		return ask(textChoosePlacement, placementKeyboard)
	}
	return h.afterDeadline(ctx)
}

func (h handler) placement(ctx context.Context, text string) []Reply {
	switch text {
	case ButtonForLesson:
		h.s.placement = model.ForLesson
	case ButtonForDay:
		h.s.placement = model.ForEndOfDay
	default:
		return ask(textIncorrect, placementKeyboard)
	}
	return h.afterDeadline(ctx)
}

// afterDeadline asks for the description, or submits straight away when
// the user already wrote one and only the deadline had to be fixed.
func (h handler) afterDeadline(ctx context.Context) []Reply {
	if h.s.description != "" {
		return h.submit(ctx)
	}
	h.s.State = AwaitingDescription
	return []Reply{{Text: textWriteDescription, RemoveKeyboard: true}}
}

func (h handler) description(ctx context.Context, text string) []Reply {
	if text == "" {
		return []Reply{{Text: textEmptyDescription}}
	}
	h.s.description = text
	return h.submit(ctx)
}

func (h handler) submit(ctx context.Context) []Reply {
	date, placement, err := h.planner.AddHomework(ctx, h.s.UserID, engine.AddRequest{
		Subject:       h.s.subject,
		Deadline:      h.s.deadline,
		Placement:     h.s.placement,
		Description:   h.s.description,
		RosterVersion: h.s.rosterVersion,
	})
	var md *model.MalformedDateError
	switch {
	case err == nil:
		h.s.reset()
		return menu(fmt.Sprintf("Homework successfully added.\nDue: %s (%s), %s.", date.WeekdayName(), date, placementText(placement)))
	case errors.Is(err, model.ErrNotFound):
		h.s.State = AwaitingDeadline
		return ask(textNoLessonAhead, deadlineKeyboard)
	case errors.As(err, &md):
		h.s.State = AwaitingDeadline
		return ask(dateErrorText(md), deadlineKeyboard)
	case errors.Is(err, model.ErrPlacementRequired):
		h.s.State = AwaitingPlacement
		return ask(textChoosePlacement, placementKeyboard)
	case errors.Is(err, model.ErrEmptyDescription):
		h.s.description = ""
		h.s.State = AwaitingDescription
		return []Reply{{Text: textEmptyDescription}}
	case errors.Is(err, model.ErrStaleSubject):
		names, version, lerr := h.planner.ListSubjects(ctx, h.s.UserID)
		if lerr != nil {
			return h.fail(lerr)
		}
		h.s.subjects = names
		h.s.rosterVersion = version
		h.s.State = AwaitingSubject
		return ask(textRosterChanged, column(names))
	default:
		return h.fail(err)
	}
}

func (h handler) startDelete(ctx context.Context) []Reply {
	choices, err := h.planner.ListUpcomingDates(ctx, h.s.UserID)
	if err != nil {
		return h.fail(err)
	}
	if len(choices) == 0 {
		return menu(textNoHomework)
	}
	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = c.Label
	}
	h.s.dateChoices = choices
	h.s.State = AwaitingDeleteDate
	return ask(textChooseDate, column(labels))
}

func (h handler) deleteDate(ctx context.Context, text string) []Reply {
	d, ok := h.pickDate(text)
	if !ok {
		labels := make([]string, len(h.s.dateChoices))
		for i, c := range h.s.dateChoices {
			labels[i] = c.Label
		}
		return ask(textIncorrect, column(labels))
	}
	lines, err := h.planner.ListHomeworkOn(ctx, h.s.UserID, d)
	if err != nil {
		return h.fail(err)
	}
	if len(lines) == 0 {
		h.s.reset()
		return menu(textNoHomeworkThatDay)
	}
	h.s.deleteDate = d
	h.s.entries = lines
	h.s.State = AwaitingDeleteEntry
	return ask(textChooseEntry, column(lines))
}

// pickDate matches a date button, or a date typed by hand as DD.MM or in
// the button format, against the offered choices.
func (h handler) pickDate(text string) (model.Date, bool) {
	for _, c := range h.s.dateChoices {
		if c.Label == text {
			return c.Date, true
		}
	}
	d, err := dates.ParseLabel(strings.TrimSpace(text), h.planner.Today())
	if err != nil {
		return 0, false
	}
	for _, c := range h.s.dateChoices {
		if c.Date == d {
			return d, true
		}
	}
	return 0, false
}

func (h handler) deleteEntry(ctx context.Context, text string) []Reply {
	known := false
	for _, line := range h.s.entries {
		if line == text {
			known = true
			break
		}
	}
	if !known {
		return ask(textIncorrect, column(h.s.entries))
	}

	err := h.planner.DeleteHomework(ctx, h.s.UserID, h.s.deleteDate, text)
	h.s.reset()
	switch {
	case err == nil:
		return menu(textDeleted)
	case errors.Is(err, model.ErrNotFound):
		return menu(textAlreadyGone)
	default:
		return h.fail(err)
	}
}

// fail ends the conversation with an error message. Unexpected errors are
// logged and hidden from the user.
func (h handler) fail(err error) []Reply {
	h.s.reset()
	var (
		ms *model.MalformedScheduleError
		md *model.MalformedDateError
	)
	switch {
	case errors.Is(err, model.ErrScheduleNotFound):
		return menu(textScheduleNotFound)
	case errors.As(err, &ms):
		return menu("Error: " + ms.Reason + ".")
	case errors.As(err, &md):
		return menu(dateErrorText(md))
	case model.IsUserError(err):
		return menu("Error: " + err.Error() + ".")
	default:
		appLog.Error("conversation step failed", err, "user", h.s.UserID)
		return menu(textUnexpected)
	}
}

func dateErrorText(md *model.MalformedDateError) string {
	return "Error: " + md.Reason + "."
}

func placementText(p model.Placement) string {
	if p == model.ForLesson {
		return "at the lesson"
	}
	return "by the end of the day"
}

func menu(text string) []Reply {
	return []Reply{{Text: text, Keyboard: MainMenu}}
}

func ask(text string, keyboard [][]string) []Reply {
	return []Reply{{Text: text, Keyboard: keyboard}}
}

func column(options []string) [][]string {
	out := make([][]string, len(options))
	for i, o := range options {
		out[i] = []string{o}
	}
	return out
}
