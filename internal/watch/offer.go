package watch

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Offer is the promoted listing extracted from one page fetch. The JSON
// shape is what history entries are stored as.
type Offer struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	Link  string `json:"link"`
	ID    string `json:"id"`
	MD5   string `json:"md5"`
}

// ParseOffer extracts the current offer from raw page markup. A missing
// offer name means the page format changed (or the load failed); callers
// treat that as a parse failure.
func ParseOffer(body []byte) (Offer, bool) {
	o := Offer{MD5: hashBody(body)}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return o, false
	}

	o.Name = strings.TrimSpace(doc.Find(".offer-name").First().Text())
	if o.Name == "" {
		return o, false
	}

	price := strings.TrimSpace(doc.Find(".offer-price").First().Text())
	o.Price = strings.TrimPrefix(price, "$")

	doc.Find(`a[href*="/cart/add/"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if href, ok := sel.Attr("href"); ok && strings.TrimSpace(href) != "" {
			o.Link = strings.TrimSpace(href)
			return false
		}
		return true
	})

	if o.Link != "" {
		o.ID = offerIDFromLink(o.Link)
	}
	return o, true
}

// offerIDFromLink derives the offer id from the last path segment of the
// cart link, with the file extension stripped ("LB8212.html" -> "LB8212").
func offerIDFromLink(link string) string {
	base := path.Base(link)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

func hashBody(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}
