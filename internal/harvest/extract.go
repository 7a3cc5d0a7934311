package harvest

import (
	"bytes"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

var (
	candidatePattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{1,5}\b`)
	ipPattern        = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	portPattern      = regexp.MustCompile(`^\d{1,5}$`)
)

// Extract returns every ip:port token in body in order of appearance,
// duplicates included. HTML pages are reduced to text first and table rows
// whose first two cells hold an address and a port are joined.
func Extract(body []byte) []proxy.Candidate {
	text := string(body)
	var out []proxy.Candidate
	if looksLikeHTML(body) {
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			out = append(out, tableCandidates(doc)...)
			text = doc.Text()
		}
	}
	for _, tok := range candidatePattern.FindAllString(text, -1) {
		out = append(out, proxy.Candidate(tok))
	}
	return out
}

func looksLikeHTML(body []byte) bool {
	return strings.HasPrefix(http.DetectContentType(body), "text/html")
}

func tableCandidates(doc *goquery.Document) []proxy.Candidate {
	var out []proxy.Candidate
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if ipPattern.MatchString(ip) && portPattern.MatchString(port) {
			out = append(out, proxy.Candidate(ip+":"+port))
		}
	})
	return out
}
