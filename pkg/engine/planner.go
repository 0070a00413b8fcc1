package engine

import (
	"fmt"
	"time"
)

// Planner computes the ordered operation sequence that converges a host's
// actual state onto the desired state.
//
// The plan is additive-only: entities present on the host but absent from
// the desired state are never touched. Entities already converged become
// no-ops and are excluded from the executable sequence, so planning against
// a converged host yields an empty plan. Entities that exist with
// contradicting attributes are planned pre-failed with a conflict error:
// their dependents block, every other branch proceeds.
//
// Planning is deterministic: identical inputs produce byte-identical
// operation sequences. Operation order is platform bootstrap first (when the
// platform is absent), then domains, users, and apps, each in declaration
// order.
type Planner struct {
	maxRetries int
}

// NewPlanner creates a Planner with the default retry budget per operation.
func NewPlanner() *Planner {
	return &Planner{maxRetries: DefaultMaxRetries}
}

// entityRef tracks how the plan resolved one entity, so later operations can
// depend on it precisely.
type entityRef struct {
	opID       string
	planned    bool // an executable operation exists for it
	conflicted bool // pre-failed at plan time
}

// needsEdge reports whether dependents must carry a dependency edge. Entities
// that already exist on the host need none.
func (r entityRef) needsEdge() bool {
	return r.planned || r.conflicted
}

// Plan diffs desired against actual and returns the converging plan.
func (p *Planner) Plan(desired *DesiredState, actual *HostState) (*Plan, error) {
	if desired == nil {
		return nil, NewPermanentError("desired state is nil", nil).WithCode(ErrCodeValidation)
	}
	if actual == nil {
		return nil, NewPermanentError("host state is nil", nil).WithCode(ErrCodeValidation)
	}

	plan := &Plan{
		Host:       actual.Host,
		CreatedAt:  time.Now().UTC(),
		Operations: make([]Operation, 0),
	}

	platformRef := p.planPlatform(desired, actual, plan)
	domainRefs := p.planDomains(desired, actual, plan, platformRef)
	userRefs := p.planUsers(desired, actual, plan, platformRef, domainRefs)
	p.planApps(desired, actual, plan, platformRef, domainRefs, userRefs)

	return plan, nil
}

// planPlatform emits the bootstrap operation when the platform is absent.
func (p *Planner) planPlatform(desired *DesiredState, actual *HostState, plan *Plan) entityRef {
	op := Operation{
		ID:         OperationID(OpInstallPlatform, ""),
		Kind:       OpInstallPlatform,
		Entity:     "platform",
		Status:     StatusPlanned,
		MaxRetries: p.maxRetries,
		Platform: &PlatformSpec{
			InstallScript: desired.InstallScript,
			MainDomain:    desired.MainDomain,
			AdminPassword: desired.AdminPassword,
		},
	}

	if actual.Installed {
		noop := Operation{
			ID:         op.ID,
			Kind:       op.Kind,
			Entity:     op.Entity,
			Status:     StatusSkipped,
			SkipReason: SkipReasonNoop,
		}
		plan.NoOps = append(plan.NoOps, noop)
		return entityRef{opID: op.ID}
	}

	plan.Operations = append(plan.Operations, op)
	return entityRef{opID: op.ID, planned: true}
}

// planDomains emits create_domain operations for declared domains missing
// from the host and conflicts for domains whose main/extra role contradicts
// the host.
func (p *Planner) planDomains(desired *DesiredState, actual *HostState, plan *Plan, platform entityRef) map[string]entityRef {
	refs := make(map[string]entityRef, len(desired.Domains))

	for _, d := range desired.Domains {
		d := d
		op := Operation{
			ID:         OperationID(OpCreateDomain, d.Name),
			Kind:       OpCreateDomain,
			Entity:     "domain/" + d.Name,
			Status:     StatusPlanned,
			MaxRetries: p.maxRetries,
			Domain:     &d,
		}

		if actual.HasDomain(d.Name) {
			// The platform tracks exactly one main domain; a declared role
			// that contradicts the host is an attribute conflict.
			switch {
			case d.Main && actual.MainDomain != "" && actual.MainDomain != d.Name:
				op.Status = StatusFailedFatal
				op.Error = NewConflictError(
					fmt.Sprintf("domain %s is declared main but host main domain is %s", d.Name, actual.MainDomain),
					nil,
				).WithEntity(op.Entity).WithOperation(string(op.Kind))
				plan.Operations = append(plan.Operations, op)
				refs[d.Name] = entityRef{opID: op.ID, conflicted: true}
			case !d.Main && actual.MainDomain == d.Name:
				op.Status = StatusFailedFatal
				op.Error = NewConflictError(
					fmt.Sprintf("domain %s is the host main domain but is declared as an extra domain", d.Name),
					nil,
				).WithEntity(op.Entity).WithOperation(string(op.Kind))
				plan.Operations = append(plan.Operations, op)
				refs[d.Name] = entityRef{opID: op.ID, conflicted: true}
			default:
				plan.NoOps = append(plan.NoOps, Operation{
					ID:         op.ID,
					Kind:       op.Kind,
					Entity:     op.Entity,
					Status:     StatusSkipped,
					SkipReason: SkipReasonNoop,
				})
				refs[d.Name] = entityRef{opID: op.ID}
			}
			continue
		}

		if platform.needsEdge() {
			op.DependsOn = append(op.DependsOn, platform.opID)
		}
		plan.Operations = append(plan.Operations, op)
		refs[d.Name] = entityRef{opID: op.ID, planned: true}
	}

	return refs
}

// planUsers emits create_user operations for declared users missing from the
// host and conflicts for users whose attributes contradict the host.
func (p *Planner) planUsers(desired *DesiredState, actual *HostState, plan *Plan, platform entityRef, domains map[string]entityRef) map[string]entityRef {
	refs := make(map[string]entityRef, len(desired.Users))

	for _, u := range desired.Users {
		u := u
		op := Operation{
			ID:         OperationID(OpCreateUser, u.Name),
			Kind:       OpCreateUser,
			Entity:     "user/" + u.Name,
			Status:     StatusPlanned,
			MaxRetries: p.maxRetries,
			User:       &u,
		}

		if existing, ok := actual.FindUser(u.Name); ok {
			if existing.Mail != "" && existing.Mail != u.Mail {
				op.Status = StatusFailedFatal
				op.Error = NewConflictError(
					fmt.Sprintf("user %s exists with mail %s, declared %s", u.Name, existing.Mail, u.Mail),
					nil,
				).WithEntity(op.Entity).WithOperation(string(op.Kind))
				plan.Operations = append(plan.Operations, op)
				refs[u.Name] = entityRef{opID: op.ID, conflicted: true}
				continue
			}
			plan.NoOps = append(plan.NoOps, Operation{
				ID:         op.ID,
				Kind:       op.Kind,
				Entity:     op.Entity,
				Status:     StatusSkipped,
				SkipReason: SkipReasonNoop,
			})
			refs[u.Name] = entityRef{opID: op.ID}
			continue
		}

		if platform.needsEdge() {
			op.DependsOn = append(op.DependsOn, platform.opID)
		}
		if ref, ok := domains[u.MailDomain()]; ok && ref.needsEdge() {
			op.DependsOn = append(op.DependsOn, ref.opID)
		}
		plan.Operations = append(plan.Operations, op)
		refs[u.Name] = entityRef{opID: op.ID, planned: true}
	}

	return refs
}

// planApps emits install_app operations for declared apps missing from the
// host, conflicts for placement contradictions, and dependency edges on the
// app's domain and on any declared user its args reference.
func (p *Planner) planApps(desired *DesiredState, actual *HostState, plan *Plan, platform entityRef, domains map[string]entityRef, users map[string]entityRef) {
	for _, a := range desired.Apps {
		a := a
		op := Operation{
			ID:         OperationID(OpInstallApp, a.Label),
			Kind:       OpInstallApp,
			Entity:     "app/" + a.Label,
			Status:     StatusPlanned,
			MaxRetries: p.maxRetries,
			App:        &a,
		}

		if existing, ok := actual.FindApp(a.ID()); ok {
			if existing.Domain == a.Domain() && existing.Path == a.Path() {
				plan.NoOps = append(plan.NoOps, Operation{
					ID:         op.ID,
					Kind:       op.Kind,
					Entity:     op.Entity,
					Status:     StatusSkipped,
					SkipReason: SkipReasonNoop,
				})
				continue
			}
			op.Status = StatusFailedFatal
			op.Error = NewConflictError(
				fmt.Sprintf("app %s is installed at %s%s, declared %s%s",
					a.ID(), existing.Domain, existing.Path, a.Domain(), a.Path()),
				nil,
			).WithEntity(op.Entity).WithOperation(string(op.Kind))
			plan.Operations = append(plan.Operations, op)
			continue
		}

		if occupant, ok := actual.AppAt(a.Domain(), a.Path()); ok {
			op.Status = StatusFailedFatal
			op.Error = NewConflictError(
				fmt.Sprintf("placement %s%s is occupied by app %s", a.Domain(), a.Path(), occupant.ID),
				nil,
			).WithEntity(op.Entity).WithOperation(string(op.Kind))
			plan.Operations = append(plan.Operations, op)
			continue
		}

		if platform.needsEdge() {
			op.DependsOn = append(op.DependsOn, platform.opID)
		}
		if ref, ok := domains[a.Domain()]; ok && ref.needsEdge() {
			op.DependsOn = append(op.DependsOn, ref.opID)
		}
		// Apps wait for a user only when their args reference one. Users are
		// checked in declaration order so the edge list stays deterministic.
		for _, u := range desired.Users {
			if ref, ok := users[u.Name]; ok && ref.needsEdge() && appReferencesUser(a, u.Name) {
				op.DependsOn = append(op.DependsOn, ref.opID)
			}
		}
		plan.Operations = append(plan.Operations, op)
	}
}

// appReferencesUser reports whether any of the app's args name the user.
// Domain and path args never count: they reference domains, not accounts.
func appReferencesUser(a AppSpec, name string) bool {
	for k, v := range a.Args {
		if k == "domain" || k == "path" {
			continue
		}
		if v == name {
			return true
		}
	}
	return false
}
