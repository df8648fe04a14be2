package conversation

import (
	"fmt"
	"strings"
)

// DefaultClinicName is used in replies when the routing number has no clinic.
const DefaultClinicName = "the dental office"

const receptionistPrompt = `You are a friendly receptionist for %s, a dental clinic, answering patient text messages after a missed call.
- Respond briefly and helpfully. Keep replies under 320 characters.
- Do not apologize excessively.
- Always encourage the patient to call the clinic or book online.
- Never give medical diagnoses. For urgent pain or swelling, tell the patient to call the office right away.
- Never invent hours, prices or insurance details that are not listed below.
- Never use placeholders such as [Your Name].`

// RedirectMessage is sent verbatim once the reply cap is reached.
func RedirectMessage(bookingURL string) string {
	if url := strings.TrimSpace(bookingURL); url != "" {
		return "To assist you further, please book online here: " + url
	}
	return "To assist you further, please call our office to book an appointment."
}

// ReplyContext is the clinic knowledge injected into the receptionist prompt.
type ReplyContext struct {
	ClinicName        string
	BookingURL        string
	EnrichmentContext string
}

func buildReplySystemPrompt(rc ReplyContext) []string {
	name := strings.TrimSpace(rc.ClinicName)
	if name == "" {
		name = DefaultClinicName
	}
	system := []string{fmt.Sprintf(receptionistPrompt, name)}
	if url := strings.TrimSpace(rc.BookingURL); url != "" {
		system = append(system, "Patients can book online at: "+url)
	}
	if extra := strings.TrimSpace(rc.EnrichmentContext); extra != "" {
		system = append(system, "Clinic information:\n"+extra)
	}
	return system
}
