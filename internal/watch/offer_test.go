package watch

import (
	"strings"
	"testing"
)

// goodPage is a trimmed-down copy of the live offer page markup.
const goodPage = `<!DOCTYPE html>
<html>
<head><title>Last Bottle</title></head>
<body>
<div class="offer">
  <h1 class="offer-name">Groth Oakville Cabernet Sauvignon Reserve 2015</h1>
  <div class="offer-price">$89</div>
  <p>A classic Napa valley red with dark fruit and cedar.</p>
  <a href="https://www.lastbottlewines.com/cart/add/LB8212.html">Add to cart</a>
</div>
</body>
</html>`

// quietPage is a well-formed offer that matches none of the default terms.
const quietPage = `<html>
<body>
<div class="offer">
  <h1 class="offer-name">Willamette Chardonnay Special 2021</h1>
  <div class="offer-price">$25</div>
  <a href="https://www.lastbottlewines.com/cart/add/LB9001.html">Add to cart</a>
</div>
</body>
</html>`

// badPage renders the offer under an unexpected class name.
const badPage = `<html>
<body>
<div class="offer-name-tag-invalid">pizza</div>
</body>
</html>`

func TestParseOffer(t *testing.T) {
	t.Parallel()
	o, ok := ParseOffer([]byte(goodPage))
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if o.Name != "Groth Oakville Cabernet Sauvignon Reserve 2015" {
		t.Fatalf("Name = %q", o.Name)
	}
	if o.Price != "89" {
		t.Fatalf("Price = %q", o.Price)
	}
	if o.Link != "https://www.lastbottlewines.com/cart/add/LB8212.html" {
		t.Fatalf("Link = %q", o.Link)
	}
	if o.ID != "LB8212" {
		t.Fatalf("ID = %q", o.ID)
	}
	if len(o.MD5) != 32 {
		t.Fatalf("MD5 = %q", o.MD5)
	}
	if o.MD5 != hashBody([]byte(goodPage)) {
		t.Fatal("MD5 does not cover the raw body")
	}
}

func TestParseOfferMissingName(t *testing.T) {
	t.Parallel()
	o, ok := ParseOffer([]byte(badPage))
	if ok {
		t.Fatalf("expected parse failure, got %+v", o)
	}
	if o.MD5 == "" {
		t.Fatal("MD5 should be computed even on parse failure")
	}
}

func TestParseOfferNoCartLink(t *testing.T) {
	t.Parallel()
	page := strings.ReplaceAll(goodPage, "/cart/add/", "/about/")
	o, ok := ParseOffer([]byte(page))
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if o.Link != "" || o.ID != "" {
		t.Fatalf("Link = %q, ID = %q, want empty", o.Link, o.ID)
	}
}

func TestOfferIDFromLink(t *testing.T) {
	t.Parallel()
	tests := []struct {
		link string
		want string
	}{
		{link: "https://www.lastbottlewines.com/cart/add/LB8212.html", want: "LB8212"},
		{link: "/cart/add/LB7.html", want: "LB7"},
		{link: "/cart/add/LB7", want: "LB7"},
	}
	for _, tt := range tests {
		if got := offerIDFromLink(tt.link); got != tt.want {
			t.Fatalf("offerIDFromLink(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestFirstMatch(t *testing.T) {
	t.Parallel()
	terms := []string{"bordeaux", "cabernet", "franc"}

	if term, ok := firstMatch(terms, []byte(goodPage)); !ok || term != "cabernet" {
		t.Fatalf("firstMatch = %q, %v", term, ok)
	}

	// whole-word only: "franc" must not hit inside "France"
	if term, ok := firstMatch([]string{"franc"}, []byte("Wines of France")); ok {
		t.Fatalf("unexpected match %q", term)
	}
	if _, ok := firstMatch([]string{"franc"}, []byte("Cabernet Franc blend")); !ok {
		t.Fatal("expected case-insensitive whole-word match")
	}

	// earlier terms win
	if term, _ := firstMatch([]string{"sauvignon", "cabernet"}, []byte(goodPage)); term != "sauvignon" {
		t.Fatalf("firstMatch = %q, want sauvignon", term)
	}
}

func TestMatchMessage(t *testing.T) {
	t.Parallel()
	o := Offer{
		Name:  "Groth Oakville Cabernet Sauvignon Reserve 2015",
		Price: "89",
	}
	want := "Found a match for cabernet ($89) in Groth Oakville Cabernet Sauvignon Reserve 2015\nhttps://lastbottlewines.com"
	if got := matchMessage("cabernet", o); got != want {
		t.Fatalf("matchMessage = %q, want %q", got, want)
	}

	o.Price = ""
	want = "Found a match for cabernet in Groth Oakville Cabernet Sauvignon Reserve 2015\nhttps://lastbottlewines.com"
	if got := matchMessage("cabernet", o); got != want {
		t.Fatalf("matchMessage without price = %q, want %q", got, want)
	}
}

func TestMatchMessageHTML(t *testing.T) {
	t.Parallel()
	o := Offer{
		Name:  "Ch&teau Test",
		Price: "49",
		Link:  "https://www.lastbottlewines.com/cart/add/LB1.html",
	}
	got := matchMessageHTML("rioja", o)
	if !strings.Contains(got, `<a href="https://www.lastbottlewines.com/cart/add/LB1.html">`) {
		t.Fatalf("missing link: %q", got)
	}
	if !strings.Contains(got, "Ch&amp;teau Test") {
		t.Fatalf("name not escaped: %q", got)
	}
	if !strings.HasPrefix(got, "Found a match for rioja ($49) in ") {
		t.Fatalf("unexpected prefix: %q", got)
	}
}
