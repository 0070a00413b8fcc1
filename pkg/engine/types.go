package engine

import (
	"encoding/json"
	"path"
	"strings"
	"time"
)

// HostState is an immutable snapshot of the host's actual state, collected by
// the prober. Not installed is a valid snapshot, not an error: all entity
// slices are empty and Installed is false.
type HostState struct {
	// Host is the probed host address.
	Host string `json:"host"`

	// ProbedAt is when the snapshot was taken.
	ProbedAt time.Time `json:"probed_at"`

	// Installed reports whether the platform is present on the host.
	Installed bool `json:"installed"`

	// MainDomain is the platform's current main domain, if installed.
	MainDomain string `json:"main_domain,omitempty"`

	// Domains lists the configured domains, sorted for determinism.
	Domains []string `json:"domains,omitempty"`

	// Users lists the existing user accounts, sorted by name.
	Users []HostUser `json:"users,omitempty"`

	// Apps lists the installed apps with their placements.
	Apps []HostApp `json:"apps,omitempty"`
}

// HasDomain reports whether the snapshot contains the given domain.
func (h *HostState) HasDomain(name string) bool {
	for _, d := range h.Domains {
		if d == name {
			return true
		}
	}
	return false
}

// FindUser returns the snapshot user with the given name, if any.
func (h *HostState) FindUser(name string) (HostUser, bool) {
	for _, u := range h.Users {
		if u.Name == name {
			return u, true
		}
	}
	return HostUser{}, false
}

// FindApp returns the snapshot app with the given id, if any.
func (h *HostState) FindApp(id string) (HostApp, bool) {
	for _, a := range h.Apps {
		if a.ID == id {
			return a, true
		}
	}
	return HostApp{}, false
}

// AppAt returns the snapshot app occupying the (domain, path) placement, if any.
func (h *HostState) AppAt(domain, appPath string) (HostApp, bool) {
	for _, a := range h.Apps {
		if a.Domain == domain && a.Path == appPath {
			return a, true
		}
	}
	return HostApp{}, false
}

// HostUser is a user account as observed on the host.
type HostUser struct {
	// Name is the account name.
	Name string `json:"name"`

	// FullName is the account's display name.
	FullName string `json:"full_name,omitempty"`

	// Mail is the account's primary mail address.
	Mail string `json:"mail,omitempty"`
}

// HostApp is an installed application as observed on the host.
type HostApp struct {
	// ID is the platform app id (e.g. "ttrss").
	ID string `json:"id"`

	// Label is the display label the app was installed under.
	Label string `json:"label,omitempty"`

	// Domain is the domain the app is served on.
	Domain string `json:"domain,omitempty"`

	// Path is the URL path the app is served at.
	Path string `json:"path,omitempty"`
}

// DesiredState is the validated, canonical form of the operator's
// configuration. Only the normalizer constructs it.
type DesiredState struct {
	// InstallScript is the platform bootstrap script: a URI or a local path.
	// Empty means the platform's default installer location.
	InstallScript string `json:"install_script,omitempty"`

	// MainDomain is the platform main domain.
	MainDomain string `json:"main_domain"`

	// AdminPassword is the platform administration password.
	AdminPassword Secret `json:"admin_password"`

	// Domains is the declared domain set: the main domain first, then extra
	// domains in declaration order.
	Domains []Domain `json:"domains"`

	// Users are the declared user accounts, in declaration order.
	Users []UserSpec `json:"users,omitempty"`

	// Apps are the declared applications, in declaration order.
	Apps []AppSpec `json:"apps,omitempty"`
}

// DomainNames returns the declared domain names in declaration order.
func (d *DesiredState) DomainNames() []string {
	names := make([]string, len(d.Domains))
	for i, dom := range d.Domains {
		names[i] = dom.Name
	}
	return names
}

// Domain declares one DNS domain. Main marks the platform main domain.
type Domain struct {
	Name string `json:"name"`
	Main bool   `json:"main"`
}

// UserSpec declares one user account.
type UserSpec struct {
	// Name is the account name.
	Name string `json:"name"`

	// Password is the account password.
	Password Secret `json:"pass"`

	// Firstname is the user's first name.
	Firstname string `json:"firstname"`

	// Lastname is the user's last name.
	Lastname string `json:"lastname"`

	// Mail is the account mail address; its domain must be declared.
	Mail string `json:"mail"`
}

// FullName returns the display name the platform derives from the spec.
func (u UserSpec) FullName() string {
	return strings.TrimSpace(u.Firstname + " " + u.Lastname)
}

// MailDomain returns the domain part of the user's mail address.
func (u UserSpec) MailDomain() string {
	if i := strings.LastIndex(u.Mail, "@"); i >= 0 {
		return u.Mail[i+1:]
	}
	return ""
}

// AppSpec declares one application installation.
type AppSpec struct {
	// Label is the unique display label for this installation.
	Label string `json:"label"`

	// Link locates the app package: a repository URL or a catalog name.
	Link string `json:"link"`

	// Args are the installation arguments. "domain" and "path" are mandatory;
	// everything else passes through to the installer opaquely.
	Args map[string]string `json:"args"`
}

// MarshalJSON renders the spec with credential-bearing args redacted, so
// serialized plans, reports, and store rows never carry app passwords.
func (a AppSpec) MarshalJSON() ([]byte, error) {
	type plain AppSpec
	out := plain(a)
	if len(a.Args) > 0 {
		out.Args = make(map[string]string, len(a.Args))
		for k, v := range a.Args {
			if SecretArgKey(k) {
				v = Redacted
			}
			out.Args[k] = v
		}
	}
	return json.Marshal(out)
}

// Domain returns the app's declared domain.
func (a AppSpec) Domain() string { return a.Args["domain"] }

// Path returns the app's declared URL path.
func (a AppSpec) Path() string { return a.Args["path"] }

// ID returns the platform app id this spec resolves to.
func (a AppSpec) ID() string { return AppID(a.Link) }

// AppID derives the platform app id from an app link: the basename of the
// link with ".git" and "_ynh" suffixes stripped. Bare catalog names pass
// through the same rules unchanged.
func AppID(link string) string {
	id := path.Base(strings.TrimSuffix(link, "/"))
	id = strings.TrimSuffix(id, ".git")
	id = strings.TrimSuffix(id, "_ynh")
	return id
}

// PlatformSpec carries what the platform bootstrap operation needs.
type PlatformSpec struct {
	// InstallScript is taken from DesiredState.InstallScript.
	InstallScript string `json:"install_script,omitempty"`

	// MainDomain is passed to post-installation.
	MainDomain string `json:"main_domain"`

	// AdminPassword is passed to post-installation.
	AdminPassword Secret `json:"admin_password"`
}

// Operation is one planned converging step. Operation IDs are deterministic
// (kind plus entity name) so identical inputs plan byte-identical sequences.
type Operation struct {
	// ID is the deterministic operation identifier, e.g. "create_domain:example.com".
	ID string `json:"id"`

	// Kind is the operation kind.
	Kind OperationKind `json:"kind"`

	// Entity names the entity being converged, e.g. "domain/example.com".
	Entity string `json:"entity"`

	// Status is the operation's current lifecycle status.
	Status OperationStatus `json:"status"`

	// SkipReason is set when Status is skipped.
	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// DependsOn lists operation IDs that must succeed before this one runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// BlockedBy names the operation whose failure blocked this one.
	BlockedBy string `json:"blocked_by,omitempty"`

	// Platform is set for install_platform operations.
	Platform *PlatformSpec `json:"platform,omitempty"`

	// Domain is set for create_domain operations.
	Domain *Domain `json:"domain,omitempty"`

	// User is set for create_user operations.
	User *UserSpec `json:"user,omitempty"`

	// App is set for install_app operations.
	App *AppSpec `json:"app,omitempty"`

	// Attempts counts execution attempts, including retries.
	Attempts int `json:"attempts"`

	// MaxRetries bounds transient-failure retries for this operation.
	MaxRetries int `json:"max_retries"`

	// StartedAt is when the first attempt started.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the operation reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total execution time across attempts.
	Duration time.Duration `json:"duration,omitempty"`

	// Output is the captured collaborator output, secret-redacted.
	Output string `json:"output,omitempty"`

	// Error is the terminal error for failed operations.
	Error *EngineError `json:"error,omitempty"`
}

// OperationID builds the deterministic id for a kind and entity name.
func OperationID(kind OperationKind, name string) string {
	if name == "" {
		return string(kind)
	}
	return string(kind) + ":" + name
}

// Plan is the ordered operation sequence that converges actual onto desired.
// A plan against a converged host has no operations. Entities that are
// already converged are recorded in NoOps for reporting; they are not part
// of the executable sequence.
type Plan struct {
	// Host is the target host.
	Host string `json:"host"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Operations is the executable sequence, in execution order. Conflicted
	// entities appear here pre-failed so their dependents block.
	Operations []Operation `json:"operations"`

	// NoOps records entities already converged, in declaration order.
	NoOps []Operation `json:"noops,omitempty"`
}

// Empty reports whether the plan has nothing to execute.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

// Conflicts returns the operations that were pre-failed at plan time.
func (p *Plan) Conflicts() []Operation {
	var out []Operation
	for _, op := range p.Operations {
		if op.Status == StatusFailedFatal {
			out = append(out, op)
		}
	}
	return out
}

// ExecutionReport records the terminal outcome of every planned operation.
// No operation is ever silently dropped: Operations always covers the full
// plan, plus the plan's no-ops.
type ExecutionReport struct {
	// RunID is the run this report belongs to.
	RunID string `json:"run_id"`

	// Host is the target host.
	Host string `json:"host"`

	// StartedAt is when execution started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when execution finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// Operations holds every operation with its terminal status.
	Operations []Operation `json:"operations"`

	// Summary counts terminal outcomes.
	Summary ReportSummary `json:"summary"`
}

// ReportSummary counts terminal operation outcomes for a run.
type ReportSummary struct {
	// Total is the number of operations, no-ops included.
	Total int `json:"total"`

	// Applied is the number of operations that succeeded.
	Applied int `json:"applied"`

	// NoOp is the number of entities that were already converged.
	NoOp int `json:"noop"`

	// Blocked is the number of operations skipped because a dependency failed.
	Blocked int `json:"blocked"`

	// TimedOut is the number of operations skipped by the run deadline.
	TimedOut int `json:"timed_out"`

	// Failed is the number of operations that failed fatally.
	Failed int `json:"failed"`

	// Retries is the total number of transient-failure retries.
	Retries int `json:"retries"`
}

// Fatal reports whether the summary contains a fatal failure.
func (s ReportSummary) Fatal() bool {
	return s.Failed > 0 || s.TimedOut > 0
}

// Event is a timeline event emitted during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the run this event belongs to.
	RunID string `json:"run_id"`

	// OperationID is the operation id, if applicable.
	OperationID string `json:"operation_id,omitempty"`

	// Entity is the entity, if applicable.
	Entity string `json:"entity,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// Run records one reconciliation run for the state store.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Host is the target host.
	Host string `json:"host"`

	// Status is the run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// User is the operator who initiated the run.
	User string `json:"user,omitempty"`

	// Summary counts the run's terminal outcomes.
	Summary ReportSummary `json:"summary"`

	// Error is the run-level error, if the run aborted.
	Error string `json:"error,omitempty"`
}
