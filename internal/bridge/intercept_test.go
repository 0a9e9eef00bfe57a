package bridge

import "testing"

func TestInterceptPolicy(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		safe      []string
		blacklist []string
		url       string
		allow     bool
		rule      string
	}{
		{"blacklisted image", "http://x/", nil, []string{"*.png"}, "http://x/a.png", false, "*.png"},
		{"safe list wins", "http://x/", []string{"http://x/a.png"}, []string{"*.png"}, "http://x/a.png", true, RuleSafeURL},
		{"safe list is exact", "http://x/", []string{"http://x/a.png"}, []string{"*.png"}, "http://x/b.png", false, "*.png"},
		{"safe list ignores query variants", "http://x/", []string{"http://x/a.png"}, []string{"*.png*"}, "http://x/a.png?v=2", false, "*.png*"},
		{"pattern covers the whole url", "http://x/", nil, []string{"*.png"}, "http://x/a.png?v=2", true, ""},
		{"no match", "http://x/", nil, []string{"*.png"}, "http://x/app.js", true, ""},
		{"case insensitive", "http://x/", nil, []string{"*.png"}, "HTTP://X/A.PNG", false, "*.png"},
		{"question mark is literal", "http://x/", nil, []string{"*/tr?*"}, "http://x/tr?id=1", false, "*/tr?*"},
		{"question mark is not a wildcard", "http://x/", nil, []string{"*/tr?*"}, "http://x/trx", true, ""},
		{"brackets are literal", "http://x/", nil, []string{"*[ad]*"}, "http://x/a", true, ""},
		{"first matching pattern", "http://x/", nil, []string{"*.js", "*ads*"}, "http://x/ads.js", false, "*.js"},
		{"same directory file", "file:///d/page.html", nil, []string{"*.jpg"}, "file:///d/img/a.jpg", true, RuleLocalFile},
		{"same directory without blacklist match", "file:///d/page.html", nil, nil, "file:///d/img/a.jpg", true, RuleLocalFile},
		{"file scheme case insensitive", "FILE:///d/page.html", nil, []string{"*.jpg"}, "file:///D/a.jpg", true, RuleLocalFile},
		{"other directory file", "file:///d/page.html", nil, []string{"*.jpg"}, "file:///e/a.jpg", false, "*.jpg"},
		{"http target gives no file exemption", "http://x/page.html", nil, []string{"*.jpg"}, "file:///a.jpg", false, "*.jpg"},
		{"inline document", "", nil, []string{"*.jpg"}, "http://x/a.jpg", false, "*.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewInterceptPolicy(tt.target, tt.safe, tt.blacklist)
			got := p.Decide(tt.url)
			if got.Allow != tt.allow || got.Rule != tt.rule {
				t.Errorf("Decide(%q) = %+v, want {Allow:%v Rule:%q}", tt.url, got, tt.allow, tt.rule)
			}
		})
	}
}

func TestInterceptPolicyActive(t *testing.T) {
	if NewInterceptPolicy("http://x/", []string{"http://x/a"}, nil).Active() {
		t.Error("policy without patterns should be inactive")
	}
	if NewInterceptPolicy("http://x/", nil, []string{""}).Active() {
		t.Error("empty patterns should be ignored")
	}
	if !NewInterceptPolicy("http://x/", nil, []string{"*"}).Active() {
		t.Error("policy with a pattern should be active")
	}
}
