package followup

import (
	"fmt"
	"strings"
)

const composeSystemPrompt = `You are a friendly receptionist for %s, a dental clinic.
- Write a short and polite SMS to follow up on a missed call.
- Use only the clinic's name and do not include placeholders like [Your Name].
- Keep it natural, professional and complete. Do not apologize excessively.
- Encourage the patient to call back or book an appointment.`

const composeUserPrompt = `A patient called %s but the call was missed. Write the complete follow-up SMS for them.
- It must not contain placeholders or any text the patient would have to fill in.
- Do not include a booking link; one is added separately.`

const regenerateHint = "Your previous draft contained template placeholders. Rewrite it with no bracketed or templated text."

func buildComposeSystem(clinicName, enrichment string) []string {
	system := []string{fmt.Sprintf(composeSystemPrompt, clinicName)}
	if extra := strings.TrimSpace(enrichment); extra != "" {
		system = append(system, "Clinic information:\n"+extra)
	}
	return system
}

// appendBookingLink adds the booking line once. A body that already carries the
// url is left alone.
func appendBookingLink(body, bookingURL string) string {
	url := strings.TrimSpace(bookingURL)
	if url == "" || strings.Contains(body, url) {
		return body
	}
	return body + "\n\nBook online: " + url
}
