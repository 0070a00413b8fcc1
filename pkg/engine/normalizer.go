package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// RawConfig is the decoded operator configuration before normalization.
// The config package produces it from YAML or Starlark sources; nothing
// downstream of the normalizer ever sees it.
type RawConfig struct {
	// InstallScript is the optional platform bootstrap script (URI or path).
	InstallScript string

	// MainDomain is the platform main domain.
	MainDomain string

	// AdminPassword is the platform administration password.
	AdminPassword Secret

	// ExtraDomains are additional domains, in declaration order.
	ExtraDomains []string

	// Users are the declared user accounts, in declaration order.
	Users []UserSpec

	// Apps are the declared applications, in declaration order.
	Apps []AppSpec
}

// Normalizer validates a raw configuration and produces the canonical
// DesiredState. Normalization is atomic: every rule is checked, all
// violations are reported together, and any violation means no DesiredState
// is produced.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize validates raw and returns the canonical desired state, or a
// *ValidationError carrying every violation found.
func (n *Normalizer) Normalize(raw *RawConfig) (*DesiredState, error) {
	var issues []ValidationIssue

	mainDomain := canonicalDomain(raw.MainDomain)
	if mainDomain == "" {
		issues = append(issues, ValidationIssue{
			Entity:  "config",
			Field:   "main_domain",
			Message: "main_domain is required",
		})
	} else if !ValidDomainName(mainDomain) {
		issues = append(issues, ValidationIssue{
			Entity:  "domain/" + mainDomain,
			Field:   "main_domain",
			Message: fmt.Sprintf("%q is not a valid DNS domain name", mainDomain),
		})
	}

	if raw.AdminPassword.IsZero() {
		issues = append(issues, ValidationIssue{
			Entity:  "config",
			Field:   "admin_password",
			Message: "admin_password is required",
		})
	}

	// Declared domain set: main domain first, then extras in declaration order.
	domains := make([]Domain, 0, 1+len(raw.ExtraDomains))
	declared := make(map[string]bool)
	if mainDomain != "" {
		domains = append(domains, Domain{Name: mainDomain, Main: true})
		declared[mainDomain] = true
	}
	for _, extra := range raw.ExtraDomains {
		name := canonicalDomain(extra)
		if !ValidDomainName(name) {
			issues = append(issues, ValidationIssue{
				Entity:  "domain/" + name,
				Field:   "extra_domains",
				Message: fmt.Sprintf("%q is not a valid DNS domain name", name),
			})
		}
		if declared[name] {
			issues = append(issues, ValidationIssue{
				Entity:  "domain/" + name,
				Field:   "extra_domains",
				Message: fmt.Sprintf("domain %q is declared more than once", name),
			})
			continue
		}
		// Invalid names still count as declared so references to them do not
		// pile on undeclared-domain violations.
		domains = append(domains, Domain{Name: name})
		declared[name] = true
	}

	users := make([]UserSpec, 0, len(raw.Users))
	seenUsers := make(map[string]bool)
	for i, u := range raw.Users {
		u.Name = strings.TrimSpace(u.Name)
		u.Mail = strings.ToLower(strings.TrimSpace(u.Mail))
		entity := "user/" + u.Name

		if u.Name == "" {
			issues = append(issues, ValidationIssue{
				Entity:  fmt.Sprintf("user[%d]", i),
				Field:   "name",
				Message: "user name is required",
			})
			continue
		}
		if !validUserName(u.Name) {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "name",
				Message: fmt.Sprintf("%q is not a valid account name (lowercase letters, digits, . _ -)", u.Name),
			})
		}
		if seenUsers[u.Name] {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "name",
				Message: fmt.Sprintf("user %q is declared more than once", u.Name),
			})
			continue
		}
		seenUsers[u.Name] = true

		if u.Password.IsZero() {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "pass",
				Message: "user password is required",
			})
		}
		local, mailDomain, ok := splitMail(u.Mail)
		switch {
		case !ok || local == "":
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "mail",
				Message: fmt.Sprintf("%q is not a valid mail address", u.Mail),
			})
		case !declared[mailDomain]:
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "mail",
				Message: fmt.Sprintf("mail domain %q is not a declared domain", mailDomain),
			})
		}
		users = append(users, u)
	}

	apps := make([]AppSpec, 0, len(raw.Apps))
	seenLabels := make(map[string]bool)
	placements := make(map[string]string) // "domain path" -> label
	for i, a := range raw.Apps {
		a.Label = strings.TrimSpace(a.Label)
		a.Link = strings.TrimSpace(a.Link)
		entity := "app/" + a.Label

		if a.Label == "" {
			issues = append(issues, ValidationIssue{
				Entity:  fmt.Sprintf("app[%d]", i),
				Field:   "label",
				Message: "app label is required",
			})
			continue
		}
		if seenLabels[a.Label] {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "label",
				Message: fmt.Sprintf("app label %q is declared more than once", a.Label),
			})
			continue
		}
		seenLabels[a.Label] = true

		if a.Link == "" {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "link",
				Message: "app link is required",
			})
		}

		// Copy args so canonicalization never mutates the caller's map.
		args := make(map[string]string, len(a.Args))
		for k, v := range a.Args {
			args[k] = v
		}
		a.Args = args

		domainOK := false
		if args["domain"] == "" {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "args.domain",
				Message: "app domain is mandatory",
			})
		} else {
			args["domain"] = canonicalDomain(args["domain"])
			if !declared[args["domain"]] {
				issues = append(issues, ValidationIssue{
					Entity:  entity,
					Field:   "args.domain",
					Message: fmt.Sprintf("references undeclared domain %q", args["domain"]),
				})
			} else {
				domainOK = true
			}
		}

		pathOK := false
		if args["path"] == "" {
			issues = append(issues, ValidationIssue{
				Entity:  entity,
				Field:   "args.path",
				Message: "app path is mandatory",
			})
		} else {
			args["path"] = CanonicalPath(args["path"])
			pathOK = true
		}

		if domainOK && pathOK {
			key := args["domain"] + " " + args["path"]
			if other, taken := placements[key]; taken {
				issues = append(issues, ValidationIssue{
					Entity:  entity,
					Field:   "args",
					Message: fmt.Sprintf("placement %s%s is already claimed by app %q", args["domain"], args["path"], other),
				})
			} else {
				placements[key] = a.Label
			}
		}
		apps = append(apps, a)
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	return &DesiredState{
		InstallScript: strings.TrimSpace(raw.InstallScript),
		MainDomain:    mainDomain,
		AdminPassword: raw.AdminPassword,
		Domains:       domains,
		Users:         users,
		Apps:          apps,
	}, nil
}

var dnsLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidDomainName checks DNS syntax: dot-separated labels of 1-63 characters,
// alphanumeric with interior hyphens, at least two labels, 253 characters max.
func ValidDomainName(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || !dnsLabelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

var userNamePattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

func validUserName(name string) bool {
	return userNamePattern.MatchString(name)
}

func canonicalDomain(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

// CanonicalPath gives app paths a leading slash and no trailing slash;
// the bare root stays "/". Probed host paths go through the same rule so
// placements compare exactly.
func CanonicalPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		p = "/"
	}
	return p
}

func splitMail(mail string) (local, domain string, ok bool) {
	i := strings.LastIndex(mail, "@")
	if i <= 0 || i == len(mail)-1 {
		return "", "", false
	}
	return mail[:i], canonicalDomain(mail[i+1:]), true
}
