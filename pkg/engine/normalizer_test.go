package engine

import (
	"errors"
	"strings"
	"testing"
)

func validRawConfig() *RawConfig {
	return &RawConfig{
		InstallScript: "https://install.yunohost.org",
		MainDomain:    "example.com",
		AdminPassword: "s3cret",
		ExtraDomains:  []string{"blog.example.com"},
		Users: []UserSpec{
			{Name: "jane", Password: "hunter2", Firstname: "Jane", Lastname: "Doe", Mail: "jane@example.com"},
		},
		Apps: []AppSpec{
			{
				Label: "ttrss",
				Link:  "https://github.com/YunoHost-Apps/ttrss_ynh",
				Args:  map[string]string{"domain": "example.com", "path": "/ttrss"},
			},
		},
	}
}

func issueFor(t *testing.T, err error, entity, field string) ValidationIssue {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T: %v", err, err)
	}
	for _, issue := range verr.Issues {
		if issue.Entity == entity && issue.Field == field {
			return issue
		}
	}
	t.Fatalf("Expected violation for entity=%q field=%q, got %v", entity, field, verr.Issues)
	return ValidationIssue{}
}

func TestNormalizer_Normalize_Valid(t *testing.T) {
	n := NewNormalizer()

	desired, err := n.Normalize(validRawConfig())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if desired.MainDomain != "example.com" {
		t.Errorf("Expected main domain example.com, got %s", desired.MainDomain)
	}
	if len(desired.Domains) != 2 {
		t.Fatalf("Expected 2 domains, got %d", len(desired.Domains))
	}
	if !desired.Domains[0].Main || desired.Domains[0].Name != "example.com" {
		t.Errorf("Expected main domain first, got %+v", desired.Domains[0])
	}
	if desired.Domains[1].Main || desired.Domains[1].Name != "blog.example.com" {
		t.Errorf("Expected extra domain second, got %+v", desired.Domains[1])
	}
	if len(desired.Users) != 1 || desired.Users[0].Name != "jane" {
		t.Errorf("Expected user jane, got %+v", desired.Users)
	}
	if len(desired.Apps) != 1 || desired.Apps[0].Label != "ttrss" {
		t.Errorf("Expected app ttrss, got %+v", desired.Apps)
	}
}

func TestNormalizer_Normalize_CanonicalizesCase(t *testing.T) {
	raw := validRawConfig()
	raw.MainDomain = "Example.COM"
	raw.Users[0].Mail = "Jane@Example.com"
	raw.Apps[0].Args["domain"] = "EXAMPLE.com"

	desired, err := NewNormalizer().Normalize(raw)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if desired.MainDomain != "example.com" {
		t.Errorf("Expected lowered main domain, got %s", desired.MainDomain)
	}
	if desired.Users[0].Mail != "jane@example.com" {
		t.Errorf("Expected lowered mail, got %s", desired.Users[0].Mail)
	}
	if desired.Apps[0].Domain() != "example.com" {
		t.Errorf("Expected lowered app domain, got %s", desired.Apps[0].Domain())
	}
}

func TestNormalizer_Normalize_CanonicalizesPath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/ttrss", "/ttrss"},
		{"ttrss", "/ttrss"},
		{"/ttrss/", "/ttrss"},
		{"/", "/"},
	}
	for _, tc := range cases {
		raw := validRawConfig()
		raw.Apps[0].Args["path"] = tc.in
		desired, err := NewNormalizer().Normalize(raw)
		if err != nil {
			t.Fatalf("Expected no error for path %q, got: %v", tc.in, err)
		}
		if got := desired.Apps[0].Path(); got != tc.want {
			t.Errorf("Path %q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizer_Normalize_DoesNotMutateInput(t *testing.T) {
	raw := validRawConfig()
	raw.Apps[0].Args["path"] = "ttrss/"

	if _, err := NewNormalizer().Normalize(raw); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if raw.Apps[0].Args["path"] != "ttrss/" {
		t.Errorf("Expected input args untouched, got %q", raw.Apps[0].Args["path"])
	}
}

func TestNormalizer_Normalize_MissingMainDomain(t *testing.T) {
	raw := validRawConfig()
	raw.MainDomain = ""
	raw.Users = nil
	raw.Apps = nil

	_, err := NewNormalizer().Normalize(raw)
	issueFor(t, err, "config", "main_domain")
}

func TestNormalizer_Normalize_MissingAdminPassword(t *testing.T) {
	raw := validRawConfig()
	raw.AdminPassword = ""

	_, err := NewNormalizer().Normalize(raw)
	issueFor(t, err, "config", "admin_password")
}

func TestNormalizer_Normalize_InvalidDomainSyntax(t *testing.T) {
	for _, bad := range []string{"nodots", "-leading.example.com", "trailing-.example.com", "ex ample.com", "double..dot.com"} {
		raw := validRawConfig()
		raw.MainDomain = bad
		raw.Users = nil
		raw.Apps = nil

		_, err := NewNormalizer().Normalize(raw)
		if err == nil {
			t.Errorf("Expected validation error for domain %q, got nil", bad)
		}
	}
}

func TestNormalizer_Normalize_DuplicateDomain(t *testing.T) {
	raw := validRawConfig()
	raw.ExtraDomains = []string{"example.com"}
	raw.Users = nil
	raw.Apps = nil

	_, err := NewNormalizer().Normalize(raw)
	issueFor(t, err, "domain/example.com", "extra_domains")
}

func TestNormalizer_Normalize_MailDomainNotDeclared(t *testing.T) {
	raw := validRawConfig()
	raw.Users[0].Mail = "jane@elsewhere.org"

	_, err := NewNormalizer().Normalize(raw)
	issue := issueFor(t, err, "user/jane", "mail")
	if !strings.Contains(issue.Message, "elsewhere.org") {
		t.Errorf("Expected message to cite the mail domain, got %q", issue.Message)
	}
}

func TestNormalizer_Normalize_DuplicateUser(t *testing.T) {
	raw := validRawConfig()
	raw.Users = append(raw.Users, raw.Users[0])

	_, err := NewNormalizer().Normalize(raw)
	issueFor(t, err, "user/jane", "name")
}

// Missing mandatory app fields must yield a validation error and zero
// operations downstream; normalization is all-or-nothing.
func TestNormalizer_Normalize_AppMissingPathAndDomain(t *testing.T) {
	raw := validRawConfig()
	raw.Apps[0].Args = map[string]string{}

	desired, err := NewNormalizer().Normalize(raw)
	if desired != nil {
		t.Fatal("Expected no desired state on validation failure")
	}
	issueFor(t, err, "app/ttrss", "args.domain")
	issueFor(t, err, "app/ttrss", "args.path")
}

func TestNormalizer_Normalize_AppDomainNotDeclared(t *testing.T) {
	raw := validRawConfig()
	raw.Apps[0].Args["domain"] = "undeclared.org"

	_, err := NewNormalizer().Normalize(raw)
	issue := issueFor(t, err, "app/ttrss", "args.domain")
	if !strings.Contains(issue.Message, "undeclared.org") {
		t.Errorf("Expected message to cite the undeclared domain, got %q", issue.Message)
	}
}

func TestNormalizer_Normalize_DuplicatePlacement(t *testing.T) {
	raw := validRawConfig()
	raw.Apps = append(raw.Apps, AppSpec{
		Label: "wiki",
		Link:  "https://github.com/YunoHost-Apps/wiki_ynh",
		Args:  map[string]string{"domain": "example.com", "path": "/ttrss"},
	})

	_, err := NewNormalizer().Normalize(raw)
	issue := issueFor(t, err, "app/wiki", "args")
	if !strings.Contains(issue.Message, "ttrss") {
		t.Errorf("Expected message to name the claiming app, got %q", issue.Message)
	}
}

func TestNormalizer_Normalize_DuplicateLabel(t *testing.T) {
	raw := validRawConfig()
	raw.Apps = append(raw.Apps, AppSpec{
		Label: "ttrss",
		Link:  "https://github.com/YunoHost-Apps/other_ynh",
		Args:  map[string]string{"domain": "example.com", "path": "/other"},
	})

	_, err := NewNormalizer().Normalize(raw)
	issueFor(t, err, "app/ttrss", "label")
}

// All violations are reported together in one pass.
func TestNormalizer_Normalize_CollectsAllViolations(t *testing.T) {
	raw := validRawConfig()
	raw.AdminPassword = ""
	raw.Users[0].Mail = "jane@elsewhere.org"
	raw.Apps[0].Args = map[string]string{"domain": "example.com"}

	_, err := NewNormalizer().Normalize(raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if len(verr.Issues) != 3 {
		t.Errorf("Expected 3 violations, got %d: %v", len(verr.Issues), verr.Issues)
	}
}

func TestValidDomainName(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"example.com", true},
		{"blog.example.com", true},
		{"xn--bcher-kva.example", true},
		{"a.co", true},
		{"123.example.com", true},
		{"nodots", false},
		{"", false},
		{"-bad.example.com", false},
		{"bad-.example.com", false},
		{"under_score.example.com", false},
		{"spa ce.example.com", false},
		{strings.Repeat("a", 64) + ".example.com", false},
	}
	for _, tc := range cases {
		if got := ValidDomainName(tc.name); got != tc.valid {
			t.Errorf("ValidDomainName(%q): expected %v, got %v", tc.name, tc.valid, got)
		}
	}
}

func TestAppID(t *testing.T) {
	cases := []struct {
		link, want string
	}{
		{"https://github.com/YunoHost-Apps/ttrss_ynh", "ttrss"},
		{"https://github.com/YunoHost-Apps/ttrss_ynh.git", "ttrss"},
		{"https://github.com/YunoHost-Apps/ttrss_ynh/", "ttrss"},
		{"wordpress", "wordpress"},
		{"https://example.com/apps/baikal_ynh", "baikal"},
	}
	for _, tc := range cases {
		if got := AppID(tc.link); got != tc.want {
			t.Errorf("AppID(%q): expected %q, got %q", tc.link, tc.want, got)
		}
	}
}
