package score

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a marketer. Create a JSON object in the format: " +
	"{ emails: array (if there is no email, leave it empty), " +
	"phone: string (format it, if there is no phone number, put Not Found), " +
	"socialMedia: array (list of the links, if there are no links, leave it empty), " +
	"probability: number (in %), " +
	"analysis: string (make the text readable) }. " +
	"Analysis must be detailed and follow the instruction. Do not make up information."

// maxSiteChars bounds the crawled text sent to the model.
const maxSiteChars = 60000

func userPrompt(req Request, texts []string) string {
	site := strings.Join(texts, "\n\n")
	if len(site) > maxSiteChars {
		site = site[:maxSiteChars]
	}
	if site == "" {
		site = "(the website could not be read)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nWebsite: %s\n\n", req.Name, req.Website)
	b.WriteString("Estimate the probability that this company needs corporate relocation, " +
		"travel or destination management services for its staff. Extract every email " +
		"address, the main phone number and the social media links found on the website. " +
		"In the analysis explain who the company is, what it does and why the probability " +
		"is what it is.\n\n")
	if req.Text != "" {
		fmt.Fprintf(&b, "Directory listing and reviews:\n%s\n\n", req.Text)
	}
	fmt.Fprintf(&b, "Website text:\n%s", site)
	return b.String()
}
