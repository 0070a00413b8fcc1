// Package engine implements the reconciliation core of ynhctl: an
// idempotent, additive-only convergence loop for one self-hosting platform
// host.
//
// # Overview
//
// A run moves through five stages:
//
//  1. Probe - observe the host's actual state, read-only (Prober)
//  2. Normalize - validate the raw configuration into DesiredState (Normalizer)
//  3. Plan - diff desired against actual into an ordered Plan (Planner)
//  4. Execute - apply the plan strictly sequentially (Executor)
//  5. Report - render per-operation outcomes and the summary (Reporter)
//
// # Core Domain Types
//
//   - HostState: immutable snapshot of the host (domains, users, apps)
//   - DesiredState: the validated, canonical configuration
//   - Operation: one converging step with deterministic id and dependency edges
//   - Plan: the ordered executable sequence plus already-converged no-ops
//   - ExecutionReport: the terminal status of every operation, nothing dropped
//
// # Semantics
//
// Plans are additive-only: nothing that exists on the host is ever deleted
// or modified, and entities the configuration does not declare are ignored.
// An entity that exists with contradicting attributes is planned pre-failed
// with a conflict error; its dependents block while unrelated branches
// proceed. Converged entities plan to nothing, so a second run against a
// converged host produces an empty plan and exits zero.
//
// Execution is single-threaded and strictly sequential. Transient failures
// (network timeouts reaching the app repository or the host) retry a bounded
// number of times with exponential backoff; every other failure is fatal for
// its dependency branch only. There is no rollback.
//
// # Errors
//
// EngineError classifies failures (transient, permanent, conflict, probe,
// validation, lockheld) and drives retry and abort decisions.
// ValidationError aggregates every normalization violation; normalization is
// atomic, so one violation means nothing executes.
package engine
