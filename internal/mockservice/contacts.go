package mockservice

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

//go:embed fixtures/it_department.html
var itDepartmentPage string

// ContactSelectors locate contact cards and their fields on a department page
type ContactSelectors struct {
	Container string
	Name      string
	Title     string
	Phone     string
	Email     string
	Address   string
}

// DefaultContactSelectors match h-card contact widgets
var DefaultContactSelectors = ContactSelectors{
	Container: "li.widgetItem.h-card",
	Name:      "h4.widgetTitle.field.p-name",
	Title:     "div.field.p-job-title",
	Phone:     "div.field.p-tel a",
	Email:     "div.field.u-email a",
	Address:   "div.field.h-adr",
}

// ExtractContacts reads every contact card from an HTML page. Missing fields are "N/A".
func ExtractContacts(r io.Reader, sel ContactSelectors) ([]Contact, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	var contacts []Contact
	doc.Find(sel.Container).Each(func(i int, card *goquery.Selection) {
		contacts = append(contacts, Contact{
			Name:    fieldText(card, sel.Name),
			Title:   fieldText(card, sel.Title),
			Phone:   fieldText(card, sel.Phone),
			Email:   fieldText(card, sel.Email),
			Address: fieldText(card, sel.Address),
		})
	})
	return contacts, nil
}

func fieldText(card *goquery.Selection, selector string) string {
	text := strings.Join(strings.Fields(card.Find(selector).First().Text()), " ")
	if text == "" {
		return "N/A"
	}
	return text
}

// fixtureContacts returns the contacts on the embedded department page
func fixtureContacts() []Contact {
	contacts, err := ExtractContacts(strings.NewReader(itDepartmentPage), DefaultContactSelectors)
	if err != nil {
		panic(err)
	}
	return contacts
}
