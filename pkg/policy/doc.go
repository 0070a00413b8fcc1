// Package policy gates plan execution behind Rego policies evaluated with
// Open Policy Agent.
//
// The Engine holds a set of compiled policies: built-ins that ship with the
// binary plus any .rego or .json files loaded from disk. Before a plan is
// executed, EvaluatePlan hands the plan and a PolicyContext to every enabled
// policy as the Rego input document and collects the entries of each
// policy's deny set. Violations with severity error or critical deny the
// plan; warnings and infos are reported but do not block.
//
// A policy is a Rego module whose package declares a deny rule:
//
//	package ynhctl.policies.sources
//
//	import rego.v1
//
//	deny contains violation if {
//		some op in input.plan.operations
//		op.kind == "install_app"
//		startswith(op.app.link, "http://")
//		violation := {
//			"message": "insecure app source",
//			"severity": "warning",
//			"operation": op.id,
//		}
//	}
//
// Deny entries may be plain strings or objects carrying message, severity,
// operation, entity and remediation keys.
//
// The input document exposes the plan exactly as it serializes elsewhere,
// which means credential-bearing app args are already redacted; policy code
// cannot observe passwords.
//
// The Loader reads policy files and can watch their paths with fsnotify,
// recompiling the engine's set on change so long-running watch loops pick up
// policy edits without a restart.
package policy
