package webbridge

import "testing"

func TestAllowList_StarAllowsEverything(t *testing.T) {
	a := NewAllowList("*")
	for _, u := range []string{
		"http://example.com",
		"https://example.com/path?q=1",
		"ftp://files.example.com",
		"content://media/external/1",
		"tel:+15551234567",
	} {
		if !a.Allows(u) {
			t.Errorf("Allows(%q) = false under *", u)
		}
	}
}

func TestAllowList_EmptyAllowsNothing(t *testing.T) {
	a := NewAllowList()
	if a.Allows("http://example.com") {
		t.Fatal("empty allow-list admitted a url")
	}
}

func TestAllowList_SchemeHandling(t *testing.T) {
	a := NewAllowList("http://example.com")
	if !a.Allows("http://example.com/anything") {
		t.Fatal("explicit scheme entry rejected its own scheme")
	}
	if a.Allows("https://example.com/") {
		t.Fatal("http entry admitted https")
	}

	// Scheme-less entries are forgiving: both web schemes match.
	a = NewAllowList("example.com")
	if !a.Allows("http://example.com/") || !a.Allows("https://example.com/") {
		t.Fatal("scheme-less entry did not cover http and https")
	}
	if a.Allows("ftp://example.com/") {
		t.Fatal("scheme-less entry admitted ftp")
	}
}

func TestAllowList_HostMatching(t *testing.T) {
	a := NewAllowList("https://example.com")
	if !a.Allows("https://example.com/") {
		t.Fatal("exact host rejected")
	}
	if a.Allows("https://www.example.com/") {
		t.Fatal("literal host admitted a subdomain")
	}
	if a.Allows("https://badexample.com/") {
		t.Fatal("suffix host admitted")
	}

	a = NewAllowList("https://*.example.com")
	for _, u := range []string{
		"https://www.example.com/",
		"https://a.b.example.com/",
		"https://example.com/", // the apex is part of its own tree
	} {
		if !a.Allows(u) {
			t.Errorf("Allows(%q) = false under *.example.com", u)
		}
	}
	if a.Allows("https://notexample.com/") {
		t.Fatal("wildcard admitted a non-subdomain")
	}

	// Host case is insignificant.
	a = NewAllowList("https://Example.COM")
	if !a.Allows("https://example.com/") {
		t.Fatal("host match is case-sensitive")
	}
}

func TestAllowList_PortMatching(t *testing.T) {
	a := NewAllowList("http://example.com:8080")
	if !a.Allows("http://example.com:8080/api") {
		t.Fatal("explicit port rejected")
	}
	if a.Allows("http://example.com/api") {
		t.Fatal("portless url matched a port-qualified entry")
	}
	if a.Allows("http://example.com:9090/api") {
		t.Fatal("wrong port admitted")
	}

	a = NewAllowList("http://example.com")
	if !a.Allows("http://example.com:8080/") {
		t.Fatal("portless entry should admit any port")
	}
}

func TestAllowList_PathMatching(t *testing.T) {
	a := NewAllowList("https://example.com/api/*")
	if !a.Allows("https://example.com/api/v1/users") {
		t.Fatal("path under the pattern rejected")
	}
	if a.Allows("https://example.com/other") {
		t.Fatal("path outside the pattern admitted")
	}

	// A bare /* path is the same as no path restriction.
	a = NewAllowList("https://example.com/*")
	if !a.Allows("https://example.com/anything/at/all") {
		t.Fatal("/* entry restricted paths")
	}
}

func TestAllowList_FileEntries(t *testing.T) {
	a := NewAllowList("file:///*")
	if !a.Allows("file:///sdcard/www/index.html") {
		t.Fatal("file url rejected by file:///*")
	}
	if a.Allows("http://example.com/") {
		t.Fatal("file entry admitted http")
	}
}

func TestAllowList_MalformedEntriesSkipped(t *testing.T) {
	// A wildcard inside a host label is not an origin; the entry is logged
	// and dropped while the good one still works.
	a := NewAllowList("http://exa*mple.com", "https://good.example")
	if !a.Allows("https://good.example/") {
		t.Fatal("valid entry lost alongside a malformed one")
	}
	if a.Allows("http://example.com/") {
		t.Fatal("malformed entry somehow admitted a url")
	}
}

func TestAllowList_SubdomainFlagWidens(t *testing.T) {
	a := &AllowList{log: logNamed("test")}
	if err := a.AddEntry("https://example.com", true); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if !a.Allows("https://deep.example.com/") {
		t.Fatal("subdomains flag did not widen the host")
	}
}

func TestAllowList_UnparseableURLDenied(t *testing.T) {
	a := NewAllowList("*") // even allow-all requires a parseable url downstream
	if !a.Allows("http://example.com/") {
		t.Fatal("sanity: allow-all rejected a normal url")
	}
	a = NewAllowList("https://example.com")
	if a.Allows("https://exa mple.com/%zz") {
		t.Fatal("unparseable url admitted")
	}
}

func TestAllowListPlugin_VotesFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowNavigation = []string{"https://app.example/*"}
	cfg.AllowIntents = []string{"tel:*"}
	p := NewAllowListPlugin(cfg)

	if got := p.AllowNavigation("https://app.example/home"); got != VoteAllow {
		t.Fatalf("AllowNavigation = %v, want allow", got)
	}
	if got := p.AllowNavigation("https://other.example/"); got != VoteAbstain {
		t.Fatalf("AllowNavigation = %v, want abstain (never deny)", got)
	}
	if got := p.AllowExternalURL("tel:+15551234567"); got != VoteAllow {
		t.Fatalf("AllowExternalURL = %v, want allow", got)
	}
	if got := p.AllowExternalURL("https://app.example/"); got != VoteAbstain {
		t.Fatalf("AllowExternalURL = %v, want abstain", got)
	}
}
