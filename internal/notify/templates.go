package notify

import (
	"strconv"
	"strings"
)

const (
	EventReminder = "reminder"

	LangEnglish    = "en"
	LangIndonesian = "id"
)

type template struct {
	Title string
	Body  string
}

var templates = map[string]map[string]template{
	LangEnglish: {
		"ticket.created":     {"Ticket {ticket_number}", "Your ticket {ticket_number} for {service_name} is in the queue."},
		"ticket.called":      {"Your turn", "Ticket {ticket_number}, please go to station {station_number}."},
		"ticket.recalled":    {"Reminder: your turn", "Ticket {ticket_number} is being called again at station {station_number}."},
		"ticket.completed":   {"Thank you", "Ticket {ticket_number} is complete. Thank you for visiting."},
		"ticket.transferred": {"Ticket transferred", "Ticket {ticket_number} was moved to another service. Please wait to be called."},
		"ticket.no_show":     {"Ticket closed", "Ticket {ticket_number} was closed because you did not answer the call."},
		EventReminder:        {"Almost your turn", "Ticket {ticket_number} is number {position} in line, about {minutes} minutes."},
	},
	LangIndonesian: {
		"ticket.created":     {"Tiket {ticket_number}", "Tiket {ticket_number} untuk {service_name} sudah masuk antrean."},
		"ticket.called":      {"Giliran Anda", "Tiket {ticket_number}, silakan menuju loket {station_number}."},
		"ticket.recalled":    {"Panggilan ulang", "Tiket {ticket_number} dipanggil ulang di loket {station_number}."},
		"ticket.completed":   {"Terima kasih", "Tiket {ticket_number} selesai. Terima kasih atas kunjungan Anda."},
		"ticket.transferred": {"Tiket dipindahkan", "Tiket {ticket_number} dipindahkan ke layanan lain. Mohon menunggu panggilan."},
		"ticket.no_show":     {"Tiket ditutup", "Tiket {ticket_number} ditutup karena tidak menjawab panggilan."},
		EventReminder:        {"Sebentar lagi giliran Anda", "Tiket {ticket_number} berada di urutan {position}, sekitar {minutes} menit lagi."},
	},
}

// Notifiable reports whether an event type has a template.
func Notifiable(eventType string) bool {
	_, ok := templates[LangEnglish][eventType]
	return ok
}

func lookupTemplate(lang, eventType string) (template, bool) {
	if byEvent, ok := templates[lang]; ok {
		if tpl, ok := byEvent[eventType]; ok {
			return tpl, true
		}
	}
	tpl, ok := templates[LangEnglish][eventType]
	return tpl, ok
}

// Vars are the values substituted into a template body and title.
type Vars struct {
	TicketNumber  string
	StationNumber string
	ServiceName   string
	Position      int
	Minutes       int
}

func renderTemplate(text string, vars Vars) string {
	replacer := strings.NewReplacer(
		"{ticket_number}", vars.TicketNumber,
		"{station_number}", vars.StationNumber,
		"{service_name}", vars.ServiceName,
		"{position}", strconv.Itoa(vars.Position),
		"{minutes}", strconv.Itoa(vars.Minutes),
	)
	return replacer.Replace(text)
}

func Render(lang, eventType string, vars Vars) (string, string, bool) {
	tpl, ok := lookupTemplate(lang, eventType)
	if !ok {
		return "", "", false
	}
	return renderTemplate(tpl.Title, vars), renderTemplate(tpl.Body, vars), true
}
