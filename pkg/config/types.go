package config

import (
	"time"

	"github.com/ynhctl/ynhctl/pkg/engine"
)

// Config is the operator's declared desired state as written in the
// configuration file, before engine normalization. Field names follow the
// file format; validator tags catch structural problems early so the
// normalizer only deals with domain rules.
type Config struct {
	// InstallScript optionally overrides the platform bootstrap script:
	// a URI or a local file path.
	InstallScript string `yaml:"install_script" json:"install_script,omitempty"`

	// MainDomain is the platform's main domain.
	MainDomain string `yaml:"main_domain" json:"main_domain" validate:"required"`

	// AdminPassword is the platform administration password.
	AdminPassword engine.Secret `yaml:"admin_password" json:"admin_password" validate:"required"`

	// ExtraDomains are additional domains to configure, in declaration order.
	ExtraDomains []string `yaml:"extra_domains" json:"extra_domains,omitempty"`

	// Users are the user accounts to provision, in declaration order.
	Users []UserConfig `yaml:"users" json:"users,omitempty" validate:"dive"`

	// Apps are the applications to install, in declaration order.
	Apps []AppConfig `yaml:"apps" json:"apps,omitempty" validate:"dive"`
}

// UserConfig declares one user account in the configuration file.
type UserConfig struct {
	// Name is the account name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Password is the account password.
	Password engine.Secret `yaml:"pass" json:"pass" validate:"required"`

	// Firstname is the user's first name.
	Firstname string `yaml:"firstname" json:"firstname" validate:"required"`

	// Lastname is the user's last name.
	Lastname string `yaml:"lastname" json:"lastname" validate:"required"`

	// Mail is the account mail address.
	Mail string `yaml:"mail" json:"mail" validate:"required,email"`
}

// AppConfig declares one application installation in the configuration file.
type AppConfig struct {
	// Label is the display label for this installation.
	Label string `yaml:"label" json:"label" validate:"required"`

	// Link locates the app package: a repository URL or a catalog name.
	Link string `yaml:"link" json:"link" validate:"required"`

	// Args are the installation arguments. The normalizer enforces the
	// mandatory "domain" and "path" keys; everything else passes through
	// to the installer opaquely.
	Args map[string]string `yaml:"args" json:"args" validate:"required"`
}

// ToRawConfig converts the file-level configuration into the engine's raw
// form for normalization.
func (c *Config) ToRawConfig() *engine.RawConfig {
	users := make([]engine.UserSpec, len(c.Users))
	for i, u := range c.Users {
		users[i] = engine.UserSpec{
			Name:      u.Name,
			Password:  u.Password,
			Firstname: u.Firstname,
			Lastname:  u.Lastname,
			Mail:      u.Mail,
		}
	}

	apps := make([]engine.AppSpec, len(c.Apps))
	for i, a := range c.Apps {
		args := make(map[string]string, len(a.Args))
		for k, v := range a.Args {
			args[k] = v
		}
		apps[i] = engine.AppSpec{
			Label: a.Label,
			Link:  a.Link,
			Args:  args,
		}
	}

	return &engine.RawConfig{
		InstallScript: c.InstallScript,
		MainDomain:    c.MainDomain,
		AdminPassword: c.AdminPassword,
		ExtraDomains:  append([]string(nil), c.ExtraDomains...),
		Users:         users,
		Apps:          apps,
	}
}

// ParsedConfig is the result of loading one configuration source.
type ParsedConfig struct {
	// Config is the decoded configuration; nil when Errors is non-empty.
	Config *Config `json:"config,omitempty"`

	// SourceFile is the file the configuration was loaded from.
	SourceFile string `json:"source_file"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists parse and schema errors with their locations.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is a parse or schema error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed), when known.
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed), when known.
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g. "apps[0].args").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity"`
}

// StarlarkResult is the outcome of evaluating a Starlark configuration.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is the evaluation error, if any.
	Error string `json:"error,omitempty"`
}
