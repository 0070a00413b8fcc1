package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies. They run against every
// plan unless explicitly disabled.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		rootPlacementPolicy(),
		insecureAppSourcePolicy(),
		planConflictsPolicy(),
		platformBootstrapPolicy(),
		duplicateAppLabelPolicy(),
	}
}

// rootPlacementPolicy blocks app installs that would shadow the portal at
// the root path of the main domain.
func rootPlacementPolicy() Policy {
	return Policy{
		Name:        "root-placement",
		Description: "Denies installing an app at the root path of the main domain, which would shadow the user portal",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"apps", "placement"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ynhctl.policies.placement

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.kind == "install_app"
	op.app.args.path == "/"
	op.app.args.domain == input.context.main_domain
	violation := {
		"message": sprintf("App '%s' would occupy the root path of main domain %s", [op.app.label, op.app.args.domain]),
		"severity": "error",
		"operation": op.id,
		"entity": op.entity,
		"remediation": "Move the app to a sub-path or a non-main domain",
	}
}
`,
	}
}

// insecureAppSourcePolicy flags apps installed from plain-HTTP sources.
func insecureAppSourcePolicy() Policy {
	return Policy{
		Name:        "insecure-app-source",
		Description: "Warns when an app install source uses plain HTTP instead of HTTPS",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"apps", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ynhctl.policies.sources

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.kind == "install_app"
	startswith(op.app.link, "http://")
	violation := {
		"message": sprintf("App '%s' is installed from an insecure source %s", [op.app.label, op.app.link]),
		"severity": "warning",
		"operation": op.id,
		"entity": op.entity,
		"remediation": "Use an https:// install source",
	}
}
`,
	}
}

// planConflictsPolicy surfaces plan-time attribute conflicts as blocking
// violations so a gated run refuses them up front instead of midway.
func planConflictsPolicy() Policy {
	return Policy{
		Name:        "plan-conflicts",
		Description: "Denies plans that carry pre-failed operations from desired/actual attribute conflicts",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"conflicts"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ynhctl.policies.conflicts

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.status == "failed_fatal"
	violation := {
		"message": sprintf("Operation %s on %s conflicts with the host's existing state", [op.id, op.entity]),
		"severity": "error",
		"operation": op.id,
		"entity": op.entity,
		"remediation": "Align the declared attributes with the host or remove the entity",
	}
}
`,
	}
}

// platformBootstrapPolicy warns when a plan includes the platform install,
// the longest and least reversible operation a run can carry.
func platformBootstrapPolicy() Policy {
	return Policy{
		Name:        "platform-bootstrap",
		Description: "Warns when a plan will bootstrap the platform on a bare host",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"platform"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ynhctl.policies.bootstrap

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.kind == "install_platform"
	violation := {
		"message": sprintf("Plan bootstraps the platform on %s; expect a long-running run", [input.plan.host]),
		"severity": "warning",
		"operation": op.id,
		"entity": op.entity,
	}
}
`,
	}
}

// duplicateAppLabelPolicy warns when two planned installs share a label,
// which makes run output and later audits ambiguous.
func duplicateAppLabelPolicy() Policy {
	return Policy{
		Name:        "duplicate-app-label",
		Description: "Warns when two planned app installs carry the same label",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"apps", "naming"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ynhctl.policies.labels

import rego.v1

deny contains violation if {
	ops := input.plan.operations
	some i, j
	i < j
	ops[i].kind == "install_app"
	ops[j].kind == "install_app"
	ops[i].app.label == ops[j].app.label
	violation := {
		"message": sprintf("Apps at %s and %s share the label '%s'", [ops[i].entity, ops[j].entity, ops[i].app.label]),
		"severity": "warning",
		"operation": ops[j].id,
		"entity": ops[j].entity,
	}
}
`,
	}
}
