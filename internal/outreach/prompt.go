package outreach

import (
	"fmt"
	"strings"

	"github.com/sells-group/lead-pipeline/internal/session"
)

func letterPrompt(rec session.CompanyRecord, website, sender string) string {
	if sender == "" {
		sender = "our team"
	}
	var b strings.Builder
	b.WriteString("Objective:\n")
	fmt.Fprintf(&b, "Write a personalized service proposal from %s to the company below. ", sender)
	b.WriteString("Base it on the strengths and weaknesses found in the analysis of their website " +
		"and customer reviews, and explain why our relocation and destination services fit " +
		"their current needs. Do not open with pleasantries.\n\n")
	b.WriteString("Format:\nThe first line is the subject, starting with \"Subject:\". " +
		"The rest is the letter, signed by " + sender + ".\n\n")
	fmt.Fprintf(&b, "Company: %s\nWebsite: %s\n\nAnalysis:\n%s\n", rec.Name, website, rec.Text)
	return b.String()
}
